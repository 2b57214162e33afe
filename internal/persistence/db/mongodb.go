package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	RoomAuditLogsCollection = "room_audit_logs"

	DefaultDatabase          = "readalong"
	DefaultConnectionTimeout = 20 * time.Second

	// the audit trail is write-mostly and low volume
	maxPoolSize = 10
)

type MongoConfig struct {
	URI               string
	Database          string
	ConnectionTimeout time.Duration
}

// Mongo is a connected client bound to one database.
type Mongo struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

func ConnectMongo(ctx context.Context, cfg MongoConfig, logger logging.Logger) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongodb URI is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("readalong").
		SetMaxPoolSize(maxPoolSize).
		SetServerSelectionTimeout(cfg.ConnectionTimeout).
		SetConnectTimeout(cfg.ConnectionTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	m := &Mongo{client: client, db: client.Database(cfg.Database), timeout: cfg.ConnectionTimeout}
	if err := m.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info(logging.MongoDB, logging.Startup, "connected to mongodb", map[logging.ExtraKey]any{
		"Database": cfg.Database,
	})
	return m, nil
}

func (m *Mongo) Database() *mongo.Database {
	return m.db
}

// Ping checks the primary is reachable. It backs the readiness probe.
func (m *Mongo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}
