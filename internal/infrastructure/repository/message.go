package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/readalong/internal/domain"
)

const DefaultMessageCapacity = 500

// Oldest messages are evicted when a room exceeds capacity.
type messageRepository struct {
	messages map[string][]domain.ChatMessage // roomCode -> messages, oldest first
	capacity int
	mu       sync.RWMutex
}

func NewMessageRepository(capacity int) domain.MessageStore {
	if capacity <= 0 {
		capacity = DefaultMessageCapacity
	}
	return &messageRepository{
		capacity: capacity,
		messages: make(map[string][]domain.ChatMessage),
	}
}

func (r *messageRepository) CreateMessage(ctx context.Context, message *domain.ChatMessage) error {
	if message == nil || message.RoomCode == "" {
		return domain.ErrInvalidInput
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	roomMsgs := append(r.messages[message.RoomCode], *message)
	if excess := len(roomMsgs) - r.capacity; excess > 0 {
		roomMsgs = append([]domain.ChatMessage(nil), roomMsgs[excess:]...)
	}
	r.messages[message.RoomCode] = roomMsgs

	return nil
}

func (r *messageRepository) ListMessages(ctx context.Context, roomCode string, since time.Time, limit int) ([]domain.ChatMessage, error) {
	if roomCode == "" {
		return nil, domain.ErrInvalidInput
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	roomMsgs := r.messages[roomCode]

	start := len(roomMsgs)
	for start > 0 && roomMsgs[start-1].CreatedAt.After(since) {
		start--
	}
	end := len(roomMsgs)
	if limit > 0 && end-start > limit {
		if since.IsZero() {
			start = end - limit
		} else {
			end = start + limit
		}
	}

	// copy so callers cannot mutate the store
	out := make([]domain.ChatMessage, end-start)
	copy(out, roomMsgs[start:end])
	return out, nil
}

func (r *messageRepository) DeleteMessages(ctx context.Context, roomCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, roomCode)
	return nil
}
