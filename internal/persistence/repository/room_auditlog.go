package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// auditRetention is how long entries live before the TTL index drops them.
const auditRetention = 90 * 24 * time.Hour

// RoomAuditLogRepository keeps the room lifecycle trail in MongoDB.
type RoomAuditLogRepository struct {
	coll *mongo.Collection
}

var _ domain.RoomAuditRepository = (*RoomAuditLogRepository)(nil)

func NewRoomAuditLogRepository(database *mongo.Database) *RoomAuditLogRepository {
	opts := options.Collection().SetWriteConcern(writeconcern.W1())
	return &RoomAuditLogRepository{
		coll: database.Collection(db.RoomAuditLogsCollection, opts),
	}
}

func (r *RoomAuditLogRepository) Log(ctx context.Context, entry *domain.RoomAuditLog) error {
	if entry == nil || entry.RoomCode == "" {
		return domain.ErrInvalidInput
	}
	if _, err := r.coll.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert audit entry for %s: %w", entry.RoomCode, err)
	}
	return nil
}

// EnsureIndexes creates the lookup indexes and the retention TTL.
func (r *RoomAuditLogRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "room_code", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("room_timeline"),
		},
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("event_type_recent"),
		},
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().
				SetName("retention").
				SetExpireAfterSeconds(int32(auditRetention.Seconds())),
		},
	})
	return err
}
