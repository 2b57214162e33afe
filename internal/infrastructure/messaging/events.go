package messaging

import (
	"encoding/json"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
)

const (
	RoomsQueue      = "rooms"
	DeadLetterQueue = "dead_letter_queue"
)

// AmqpMessage is the envelope published on the exchange.
type AmqpMessage struct {
	OwnerID string          `json:"ownerId"`
	Data    json.RawMessage `json:"data"`
}

// Routing keys
const (
	EventRoomCreated     = "room.created"
	EventRoomDeleted     = "room.deleted"
	EventRoomExpired     = "room.expired"
	EventRoomDeactivated = "room.deactivated"
	EventMemberJoined    = "member.joined"
	EventMemberLeft      = "member.left"
	EventRoomFull        = "room.full_rejected"
)

var RoomRoutingKeys = []string{"room.*", "member.*"}

var routingKeys = map[domain.RoomEventType]string{
	domain.EventRoomCreated:     EventRoomCreated,
	domain.EventRoomDeleted:     EventRoomDeleted,
	domain.EventRoomExpired:     EventRoomExpired,
	domain.EventRoomDeactivated: EventRoomDeactivated,
	domain.EventMemberJoined:    EventMemberJoined,
	domain.EventMemberLeft:      EventMemberLeft,
	domain.EventRoomFull:        EventRoomFull,
}

// RoutingKey maps a room event to its routing key.
func RoutingKey(t domain.RoomEventType) (string, bool) {
	key, ok := routingKeys[t]
	return key, ok
}

type RoomEventData struct {
	RoomCode         string    `json:"roomCode"`
	UserID           string    `json:"userId,omitempty"`
	HostID           string    `json:"hostId,omitempty"`
	ParticipantCount int       `json:"participantCount"`
	Reason           string    `json:"reason,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

func NewRoomEventData(ev domain.RoomEvent) RoomEventData {
	return RoomEventData{
		RoomCode:         ev.RoomCode,
		UserID:           ev.UserID,
		HostID:           ev.HostID,
		ParticipantCount: ev.ParticipantCount,
		Reason:           ev.Reason,
		OccurredAt:       ev.OccurredAt,
	}
}
