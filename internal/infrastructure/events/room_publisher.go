package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/messaging"
)

type Publisher interface {
	PublishMessage(ctx context.Context, routingKey string, msg messaging.AmqpMessage) error
}

// RoomPublisher forwards room lifecycle events to the broker.
type RoomPublisher struct {
	publisher Publisher
}

var _ domain.RoomEventSink = (*RoomPublisher)(nil)

func NewRoomPublisher(publisher Publisher) *RoomPublisher {
	return &RoomPublisher{
		publisher: publisher,
	}
}

func (p *RoomPublisher) HandleRoomEvent(ctx context.Context, ev domain.RoomEvent) error {
	key, ok := messaging.RoutingKey(ev.Type)
	if !ok {
		return fmt.Errorf("no routing key for room event %q", ev.Type)
	}

	roomEventJSON, err := json.Marshal(messaging.NewRoomEventData(ev))
	if err != nil {
		return err
	}

	return p.publisher.PublishMessage(ctx, key, messaging.AmqpMessage{
		OwnerID: ev.HostID,
		Data:    roomEventJSON,
	})
}
