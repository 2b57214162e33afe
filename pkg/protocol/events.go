// Package protocol defines the push wire format: a JSON envelope carrying a
// type tag and a payload that decodes into one concrete Go type per event.
package protocol

import "encoding/json"

type EventType string

// Client to server.
const (
	JoinRoom     EventType = "join-room"
	LeaveRoom    EventType = "leave-room"
	ScrollSync   EventType = "scroll-sync"
	SyncToggle   EventType = "sync-toggle"
	SendMessage  EventType = "send-message"
	TypingStart  EventType = "typing-start"
	TypingStop   EventType = "typing-stop"
	ReactMessage EventType = "react-message"
	Heartbeat    EventType = "heartbeat"
)

// Server to client.
const (
	RoomState       EventType = "room-state"
	UserJoined      EventType = "user-joined"
	UserLeft        EventType = "user-left"
	ScrollUpdate    EventType = "scroll-update"
	SyncState       EventType = "sync-state"
	MessageReceived EventType = "message-received"
	UserTyping      EventType = "user-typing"
	UserTypingStop  EventType = "user-typing-stop"
	MessageReaction EventType = "message-reaction"
	RoomDeleted     EventType = "room-deleted"
	Error           EventType = "error"
)

// PanelComment travels in both directions under the same tag.
const PanelComment EventType = "panel-comment"

// Error codes carried by ErrorEvent.
const (
	CodeAuthRequired      = "AUTH_REQUIRED"
	CodeInvalidCredential = "INVALID_CREDENTIAL"
	CodeRoomNotFound      = "ROOM_NOT_FOUND"
	CodeRoomExists        = "ROOM_EXISTS"
	CodeRoomInactive      = "ROOM_INACTIVE"
	CodeRoomFull          = "ROOM_FULL"
	CodeTooManyRooms      = "TOO_MANY_ROOMS"
	CodeForbidden         = "FORBIDDEN"
	CodeNotParticipant    = "NOT_PARTICIPANT"
	CodeValidation        = "VALIDATION_FAILED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeMalformedEvent    = "MALFORMED_EVENT"
	CodeUnknownEvent      = "UNKNOWN_EVENT"
	CodeInternal          = "INTERNAL"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type     EventType       `json:"type"`
	RoomCode string          `json:"roomCode,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}
