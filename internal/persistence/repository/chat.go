package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/readalong/internal/domain"
	"gorm.io/gorm"
)

type chatMessageModel struct {
	ID        string    `gorm:"primaryKey"`
	RoomCode  string    `gorm:"index:idx_messages_room_created,priority:1;not null"`
	UserID    string    `gorm:"not null"`
	Username  string    `gorm:"not null"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2;not null"`
}

func (chatMessageModel) TableName() string { return "chat_messages" }

type panelCommentModel struct {
	ID        string    `gorm:"primaryKey"`
	RoomCode  string    `gorm:"index:idx_comments_room_page,priority:1;not null"`
	PageID    string    `gorm:"index:idx_comments_room_page,priority:2;not null"`
	UserID    string    `gorm:"not null"`
	Username  string    `gorm:"not null"`
	Text      string    `gorm:"type:text;not null"`
	XPercent  float64   `gorm:"not null"`
	YPercent  float64   `gorm:"not null"`
	CreatedAt time.Time `gorm:"index;not null"`
}

func (panelCommentModel) TableName() string { return "panel_comments" }

// ChatStore keeps chat messages and panel comments in SQLite through GORM.
type ChatStore struct {
	db *gorm.DB
}

var (
	_ domain.MessageStore = (*ChatStore)(nil)
	_ domain.CommentStore = (*ChatStore)(nil)
)

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

// Migrate applies schema updates.
func (s *ChatStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&chatMessageModel{}, &panelCommentModel{})
}

func (s *ChatStore) CreateMessage(ctx context.Context, message *domain.ChatMessage) error {
	if message == nil || message.RoomCode == "" {
		return domain.ErrInvalidInput
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	model := chatMessageModel{
		ID:        message.ID,
		RoomCode:  message.RoomCode,
		UserID:    message.UserID,
		Username:  message.Username,
		Text:      message.Text,
		CreatedAt: message.CreatedAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *ChatStore) ListMessages(ctx context.Context, roomCode string, since time.Time, limit int) ([]domain.ChatMessage, error) {
	if roomCode == "" {
		return nil, domain.ErrInvalidInput
	}

	// a cursor pages forward from since; without one the tail is returned
	newestFirst := since.IsZero()

	query := s.db.WithContext(ctx).Where("room_code = ?", roomCode)
	if newestFirst {
		query = query.Order("created_at DESC")
	} else {
		query = query.Where("created_at > ?", since.UTC()).Order("created_at ASC")
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []chatMessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]domain.ChatMessage, len(models))
	for i, m := range models {
		at := i
		if newestFirst {
			at = len(models) - 1 - i
		}
		out[at] = domain.ChatMessage{
			ID:        m.ID,
			RoomCode:  m.RoomCode,
			UserID:    m.UserID,
			Username:  m.Username,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, nil
}

func (s *ChatStore) DeleteMessages(ctx context.Context, roomCode string) error {
	return s.db.WithContext(ctx).Where("room_code = ?", roomCode).Delete(&chatMessageModel{}).Error
}

func (s *ChatStore) CreateComment(ctx context.Context, comment *domain.PanelComment) error {
	if comment == nil || comment.RoomCode == "" || comment.PageID == "" {
		return domain.ErrInvalidInput
	}
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}

	model := panelCommentModel{
		ID:        comment.ID,
		RoomCode:  comment.RoomCode,
		PageID:    comment.PageID,
		UserID:    comment.UserID,
		Username:  comment.Username,
		Text:      comment.Text,
		XPercent:  comment.XPercent,
		YPercent:  comment.YPercent,
		CreatedAt: comment.CreatedAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *ChatStore) ListComments(ctx context.Context, roomCode, pageID string) ([]domain.PanelComment, error) {
	if roomCode == "" {
		return nil, domain.ErrInvalidInput
	}

	query := s.db.WithContext(ctx).
		Where("room_code = ?", roomCode).
		Order("created_at ASC")
	if pageID != "" {
		query = query.Where("page_id = ?", pageID)
	}

	var models []panelCommentModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]domain.PanelComment, 0, len(models))
	for _, m := range models {
		out = append(out, domain.PanelComment{
			ID:        m.ID,
			RoomCode:  m.RoomCode,
			PageID:    m.PageID,
			UserID:    m.UserID,
			Username:  m.Username,
			Text:      m.Text,
			XPercent:  m.XPercent,
			YPercent:  m.YPercent,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func (s *ChatStore) DeleteComments(ctx context.Context, roomCode string) error {
	return s.db.WithContext(ctx).Where("room_code = ?", roomCode).Delete(&panelCommentModel{}).Error
}
