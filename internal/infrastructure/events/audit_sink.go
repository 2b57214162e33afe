package events

import (
	"context"

	"github.com/hilthontt/readalong/internal/domain"
)

// AuditSink records room lifecycle events in the audit trail.
type AuditSink struct {
	repo domain.RoomAuditRepository
}

var _ domain.RoomEventSink = (*AuditSink)(nil)

func NewAuditSink(repo domain.RoomAuditRepository) *AuditSink {
	return &AuditSink{repo: repo}
}

func (s *AuditSink) HandleRoomEvent(ctx context.Context, ev domain.RoomEvent) error {
	return s.repo.Log(ctx, domain.NewRoomAuditLog(ev))
}
