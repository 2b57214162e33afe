package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServerEvent is implemented only by the event types in this file.
type ServerEvent interface {
	serverEvent()
	EventType() EventType
}

type ParticipantInfo struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	IsHost   bool      `json:"isHost"`
	IsTyping bool      `json:"isTyping"`
	JoinedAt time.Time `json:"joinedAt"`
}

type RoomStateEvent struct {
	RoomCode     string            `json:"roomCode"`
	HostID       string            `json:"hostId"`
	ContentID    string            `json:"contentId,omitempty"`
	Position     float64           `json:"position"`
	PageIndex    int               `json:"pageIndex"`
	TotalPages   int               `json:"totalPages"`
	SyncEnabled  bool              `json:"syncEnabled"`
	Active       bool              `json:"isActive"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Participants []ParticipantInfo `json:"participants"`
}

type UserJoinedEvent struct {
	UserID           string `json:"userId"`
	Username         string `json:"username"`
	ParticipantCount int    `json:"participantCount"`
}

type UserLeftEvent struct {
	UserID           string `json:"userId"`
	Username         string `json:"username"`
	ParticipantCount int    `json:"participantCount"`
}

type ScrollUpdateEvent struct {
	UserID    string    `json:"userId"`
	Position  float64   `json:"position"`
	PageIndex int       `json:"pageIndex"`
	Timestamp time.Time `json:"timestamp"`
}

type SyncStateEvent struct {
	Enabled bool `json:"enabled"`
}

type MessageReceivedEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type UserTypingEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserTypingStopEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type MessageReactionEvent struct {
	MessageID string    `json:"messageId"`
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type PanelCommentAddedEvent struct {
	ID        string    `json:"id"`
	PageID    string    `json:"pageId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	XPercent  float64   `json:"xPercent"`
	YPercent  float64   `json:"yPercent"`
	Timestamp time.Time `json:"timestamp"`
}

type RoomDeletedEvent struct {
	RoomCode string `json:"roomCode"`
	Reason   string `json:"reason,omitempty"`
}

type ErrorEvent struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

func (RoomStateEvent) serverEvent()         {}
func (UserJoinedEvent) serverEvent()        {}
func (UserLeftEvent) serverEvent()          {}
func (ScrollUpdateEvent) serverEvent()      {}
func (SyncStateEvent) serverEvent()         {}
func (MessageReceivedEvent) serverEvent()   {}
func (UserTypingEvent) serverEvent()        {}
func (UserTypingStopEvent) serverEvent()    {}
func (MessageReactionEvent) serverEvent()   {}
func (PanelCommentAddedEvent) serverEvent() {}
func (RoomDeletedEvent) serverEvent()       {}
func (ErrorEvent) serverEvent()             {}

func (RoomStateEvent) EventType() EventType         { return RoomState }
func (UserJoinedEvent) EventType() EventType        { return UserJoined }
func (UserLeftEvent) EventType() EventType          { return UserLeft }
func (ScrollUpdateEvent) EventType() EventType      { return ScrollUpdate }
func (SyncStateEvent) EventType() EventType         { return SyncState }
func (MessageReceivedEvent) EventType() EventType   { return MessageReceived }
func (UserTypingEvent) EventType() EventType        { return UserTyping }
func (UserTypingStopEvent) EventType() EventType    { return UserTypingStop }
func (MessageReactionEvent) EventType() EventType   { return MessageReaction }
func (PanelCommentAddedEvent) EventType() EventType { return PanelComment }
func (RoomDeletedEvent) EventType() EventType       { return RoomDeleted }
func (ErrorEvent) EventType() EventType             { return Error }

// Outbound is a server frame ready for WriteJSON.
type Outbound struct {
	Type     EventType   `json:"type"`
	RoomCode string      `json:"roomCode,omitempty"`
	Data     ServerEvent `json:"data"`
}

func NewOutbound(roomCode string, ev ServerEvent) *Outbound {
	return &Outbound{Type: ev.EventType(), RoomCode: roomCode, Data: ev}
}

// DecodeServerEvent is the client side counterpart of Outbound.
func DecodeServerEvent(raw []byte) (string, ServerEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var (
		ev  ServerEvent
		err error
	)
	switch env.Type {
	case RoomState:
		ev, err = decodeServerData[RoomStateEvent](env.Data)
	case UserJoined:
		ev, err = decodeServerData[UserJoinedEvent](env.Data)
	case UserLeft:
		ev, err = decodeServerData[UserLeftEvent](env.Data)
	case ScrollUpdate:
		ev, err = decodeServerData[ScrollUpdateEvent](env.Data)
	case SyncState:
		ev, err = decodeServerData[SyncStateEvent](env.Data)
	case MessageReceived:
		ev, err = decodeServerData[MessageReceivedEvent](env.Data)
	case UserTyping:
		ev, err = decodeServerData[UserTypingEvent](env.Data)
	case UserTypingStop:
		ev, err = decodeServerData[UserTypingStopEvent](env.Data)
	case MessageReaction:
		ev, err = decodeServerData[MessageReactionEvent](env.Data)
	case PanelComment:
		ev, err = decodeServerData[PanelCommentAddedEvent](env.Data)
	case RoomDeleted:
		ev, err = decodeServerData[RoomDeletedEvent](env.Data)
	case Error:
		ev, err = decodeServerData[ErrorEvent](env.Data)
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return "", nil, err
	}
	return env.RoomCode, ev, nil
}

func decodeServerData[T ServerEvent](data json.RawMessage) (ServerEvent, error) {
	var ev T
	if len(data) == 0 || string(data) == "null" {
		return ev, nil
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return ev, nil
}
