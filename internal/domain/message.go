package domain

import (
	"context"
	"time"
)

const (
	MaxMessageLength = 2000
	MaxCommentLength = 1000
)

type ChatMessage struct {
	ID        string    `json:"id"`
	RoomCode  string    `json:"roomCode"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
}

// PanelComment is a note anchored to a point on a page, in percent of the
// page's width and height.
type PanelComment struct {
	ID        string    `json:"id"`
	RoomCode  string    `json:"roomCode"`
	PageID    string    `json:"pageId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	XPercent  float64   `json:"xPercent"`
	YPercent  float64   `json:"yPercent"`
	CreatedAt time.Time `json:"timestamp"`
}

type Reaction struct {
	MessageID string    `json:"messageId"`
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"timestamp"`
}

type MessageStore interface {
	CreateMessage(ctx context.Context, message *ChatMessage) error
	// ListMessages returns messages created strictly after since, oldest
	// first. With a zero since it returns the most recent limit messages;
	// otherwise the oldest limit after since, so a cursor can page forward.
	ListMessages(ctx context.Context, roomCode string, since time.Time, limit int) ([]ChatMessage, error)
	DeleteMessages(ctx context.Context, roomCode string) error
}

type CommentStore interface {
	CreateComment(ctx context.Context, comment *PanelComment) error
	// ListComments returns the comments of a room, optionally narrowed to
	// one page when pageID is non-empty.
	ListComments(ctx context.Context, roomCode, pageID string) ([]PanelComment, error)
	DeleteComments(ctx context.Context, roomCode string) error
}
