package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/readalong/internal/domain"
)

const DefaultCommentCapacity = 1000

type commentRepository struct {
	comments map[string][]domain.PanelComment // roomCode -> comments, oldest first
	capacity int
	mu       sync.RWMutex
}

func NewCommentRepository(capacity int) domain.CommentStore {
	if capacity <= 0 {
		capacity = DefaultCommentCapacity
	}
	return &commentRepository{
		capacity: capacity,
		comments: make(map[string][]domain.PanelComment),
	}
}

func (r *commentRepository) CreateComment(ctx context.Context, comment *domain.PanelComment) error {
	if comment == nil || comment.RoomCode == "" || comment.PageID == "" {
		return domain.ErrInvalidInput
	}

	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	roomComments := append(r.comments[comment.RoomCode], *comment)
	if excess := len(roomComments) - r.capacity; excess > 0 {
		roomComments = append([]domain.PanelComment(nil), roomComments[excess:]...)
	}
	r.comments[comment.RoomCode] = roomComments

	return nil
}

func (r *commentRepository) ListComments(ctx context.Context, roomCode, pageID string) ([]domain.PanelComment, error) {
	if roomCode == "" {
		return nil, domain.ErrInvalidInput
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.PanelComment, 0, len(r.comments[roomCode]))
	for _, c := range r.comments[roomCode] {
		if pageID == "" || c.PageID == pageID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *commentRepository) DeleteComments(ctx context.Context, roomCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.comments, roomCode)
	return nil
}
