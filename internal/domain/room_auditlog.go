package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RoomEventType string

const (
	EventRoomCreated     RoomEventType = "room_created"
	EventRoomDeleted     RoomEventType = "room_deleted"
	EventRoomExpired     RoomEventType = "room_expired"
	EventRoomDeactivated RoomEventType = "room_deactivated"
	EventMemberJoined    RoomEventType = "member_joined"
	EventMemberLeft      RoomEventType = "member_left"
	EventRoomFull        RoomEventType = "room_full_rejected"
)

// RoomEvent describes a room lifecycle change. It feeds the audit trail and
// the broker, never the sync path.
type RoomEvent struct {
	Type             RoomEventType
	RoomCode         string
	UserID           string
	HostID           string
	ParticipantCount int
	Reason           string
	OccurredAt       time.Time
}

type RoomEventSink interface {
	HandleRoomEvent(ctx context.Context, ev RoomEvent) error
}

type RoomAuditLog struct {
	ID        string         `bson:"_id" json:"id"`
	RoomCode  string         `bson:"room_code" json:"roomCode"`
	EventType RoomEventType  `bson:"event_type" json:"eventType"`
	UserID    string         `bson:"user_id,omitempty" json:"userId,omitempty"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// RoomAuditRepository appends to the room audit trail. Retention is the
// store's concern.
type RoomAuditRepository interface {
	Log(ctx context.Context, log *RoomAuditLog) error
}

func NewRoomAuditLog(ev RoomEvent) *RoomAuditLog {
	metadata := map[string]any{
		"participant_count": ev.ParticipantCount,
	}

	switch ev.Type {
	case EventRoomCreated:
		metadata["host_id"] = ev.HostID
	case EventRoomDeleted, EventRoomExpired, EventRoomDeactivated:
		metadata["reason"] = ev.Reason
	case EventMemberLeft:
		metadata["was_host"] = ev.HostID != "" && ev.HostID == ev.UserID
		if ev.Reason != "" {
			metadata["reason"] = ev.Reason
		}
	case EventRoomFull:
		delete(metadata, "participant_count")
	}

	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomCode:  ev.RoomCode,
		EventType: ev.Type,
		UserID:    ev.UserID,
		Timestamp: ts,
		Metadata:  metadata,
	}
}
