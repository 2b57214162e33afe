package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key string
	msg messaging.AmqpMessage
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishMessage(_ context.Context, key string, msg messaging.AmqpMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, msg: msg})
	return nil
}

type fakeAuditRepo struct {
	logs []*domain.RoomAuditLog
}

func (f *fakeAuditRepo) Log(_ context.Context, log *domain.RoomAuditLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func TestRoomPublisher(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewRoomPublisher(pub)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	err := sink.HandleRoomEvent(context.Background(), domain.RoomEvent{
		Type:             domain.EventMemberJoined,
		RoomCode:         "ABC123",
		UserID:           "u2",
		HostID:           "u1",
		ParticipantCount: 2,
		OccurredAt:       at,
	})
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, messaging.EventMemberJoined, pub.sent[0].key)
	assert.Equal(t, "u1", pub.sent[0].msg.OwnerID)

	var data messaging.RoomEventData
	require.NoError(t, json.Unmarshal(pub.sent[0].msg.Data, &data))
	assert.Equal(t, "ABC123", data.RoomCode)
	assert.Equal(t, 2, data.ParticipantCount)
	assert.True(t, at.Equal(data.OccurredAt))
}

func TestRoomPublisherErrors(t *testing.T) {
	sink := NewRoomPublisher(&fakePublisher{})
	err := sink.HandleRoomEvent(context.Background(), domain.RoomEvent{Type: "unknown"})
	assert.Error(t, err)

	boom := errors.New("channel closed")
	sink = NewRoomPublisher(&fakePublisher{err: boom})
	err = sink.HandleRoomEvent(context.Background(), domain.RoomEvent{Type: domain.EventRoomCreated, RoomCode: "ABC123"})
	assert.ErrorIs(t, err, boom)
}

func TestAuditSink(t *testing.T) {
	repo := &fakeAuditRepo{}
	sink := NewAuditSink(repo)

	err := sink.HandleRoomEvent(context.Background(), domain.RoomEvent{
		Type:     domain.EventRoomDeleted,
		RoomCode: "ABC123",
		UserID:   "u1",
		Reason:   "deleted",
	})
	require.NoError(t, err)
	require.Len(t, repo.logs, 1)
	assert.Equal(t, domain.EventRoomDeleted, repo.logs[0].EventType)
	assert.Equal(t, "deleted", repo.logs[0].Metadata["reason"])
	assert.NotEmpty(t, repo.logs[0].ID)
}
