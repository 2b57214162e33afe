package main

import (
	"context"
	"expvar"
	"log"
	"runtime"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/auth"
	"github.com/hilthontt/readalong/internal/infrastructure/configs"
	"github.com/hilthontt/readalong/internal/infrastructure/events"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/messaging"
	"github.com/hilthontt/readalong/internal/infrastructure/metrics"
	"github.com/hilthontt/readalong/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/readalong/internal/infrastructure/repository"
	"github.com/hilthontt/readalong/internal/infrastructure/tracing"
	"github.com/hilthontt/readalong/internal/infrastructure/ws"
	"github.com/hilthontt/readalong/internal/persistence/db"
	persistence "github.com/hilthontt/readalong/internal/persistence/repository"
	"github.com/hilthontt/readalong/internal/presentation/api"
	commentsHandler "github.com/hilthontt/readalong/internal/presentation/handler/comments"
	healthHandler "github.com/hilthontt/readalong/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/readalong/internal/presentation/handler/messages"
	roomHandler "github.com/hilthontt/readalong/internal/presentation/handler/rooms"
	socketHandler "github.com/hilthontt/readalong/internal/presentation/handler/socket"
	tokensHandler "github.com/hilthontt/readalong/internal/presentation/handler/tokens"
	"github.com/hilthontt/readalong/internal/registry"
	"github.com/hilthontt/readalong/internal/relay"
	"go.uber.org/zap"
)

func main() {
	sugar := zap.Must(zap.NewProduction()).Sugar()
	defer sugar.Sync()

	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.LoggerConfig{
		FilePath:   cfg.Logger.FilePath,
		Encoding:   cfg.Logger.Encoding,
		Level:      cfg.Logger.Level,
		Logger:     cfg.Logger.Logger,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 20,
	})
	if err != nil {
		log.Fatal(err)
	}
	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: 1,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}

	m := metrics.New()

	reg := registry.New(registry.Options{
		DefaultTTL:             cfg.Rooms.DefaultTTL,
		DefaultMaxParticipants: cfg.Rooms.MaxParticipants,
		MaxRooms:               cfg.Rooms.MaxRooms,
		EmptyGrace:             cfg.Rooms.EmptyGrace,
		StaleAfter:             cfg.Rooms.StaleAfter(),
		SweepInterval:          cfg.Rooms.SweepInterval,
	}, registry.WithLogger(logger), registry.WithMetrics(m))
	go reg.Run(ctx)

	limiter := ratelimiter.NewFixedWindowRateLimiter(
		cfg.RateLimits.PolicyMap(),
		ratelimiter.WithRetention(cfg.RateLimits.Retention),
		ratelimiter.WithSweepInterval(cfg.RateLimits.SweepInterval),
	)
	go limiter.Run(ctx)

	var (
		messageStore domain.MessageStore
		commentStore domain.CommentStore
		closers      []func(context.Context) error
		checks       = map[string]healthHandler.Check{}
	)

	switch cfg.Store.Driver {
	case "sqlite":
		gdb, err := db.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			sugar.Fatalw("failed to open sqlite store", "error", err)
		}
		store := persistence.NewChatStore(gdb)
		if err := store.Migrate(ctx); err != nil {
			sugar.Fatalw("failed to migrate sqlite store", "error", err)
		}
		messageStore, commentStore = store, store
		checks["sqlite"] = func(ctx context.Context) error { return db.PingSQLite(ctx, gdb) }
		closers = append(closers, func(context.Context) error { return db.CloseSQLite(gdb) })
	default:
		messageStore = repository.NewMessageRepository(int(cfg.Store.MessageCapacity))
		commentStore = repository.NewCommentRepository(repository.DefaultCommentCapacity)
	}

	var sinks []domain.RoomEventSink

	if cfg.Audit.Enabled {
		mongo, err := db.ConnectMongo(ctx, db.MongoConfig{
			URI:               cfg.Audit.URI,
			Database:          cfg.Audit.Database,
			ConnectionTimeout: db.DefaultConnectionTimeout,
		}, logger)
		if err != nil {
			sugar.Fatalw("failed to connect to mongodb", "error", err)
		}
		auditRepo := persistence.NewRoomAuditLogRepository(mongo.Database())
		if err := auditRepo.EnsureIndexes(ctx); err != nil {
			sugar.Warnw("failed to ensure audit indexes", "error", err)
		}
		sinks = append(sinks, events.NewAuditSink(auditRepo))
		checks["mongodb"] = mongo.Ping
		closers = append(closers, mongo.Close)
	}

	if cfg.Broker.Enabled {
		rabbit, err := messaging.NewRabbitMQ(cfg.Broker.URI, cfg.Broker.Exchange)
		if err != nil {
			sugar.Fatalw("failed to connect to rabbitmq", "error", err)
		}
		sinks = append(sinks, events.NewRoomPublisher(rabbit))
		closers = append(closers, func(context.Context) error {
			rabbit.Close()
			return nil
		})
	}

	core := ws.NewCore(ws.Config{
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		PingInterval:    cfg.WebSocket.PingInterval,
		PongWait:        cfg.WebSocket.PongWait,
		WriteWait:       cfg.WebSocket.WriteWait,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		EventsPerSecond: cfg.WebSocket.EventsPerSecond,
		EventBurst:      cfg.WebSocket.EventBurst,
	}, logger, m)

	engine := relay.New(relay.Deps{
		Registry:      reg,
		Limiter:       limiter,
		Messages:      messageStore,
		Comments:      commentStore,
		Broadcaster:   core,
		Sinks:         sinks,
		Logger:        logger,
		Metrics:       m,
		HistoryReplay: cfg.Rooms.HistoryReplay,
	})

	verifier := auth.NewJWTVerifier(auth.JWTConfig{
		Secret:     cfg.Auth.Secret,
		Issuer:     cfg.Auth.Issuer,
		Expiration: cfg.Auth.TokenTTL,
		Leeway:     cfg.Auth.Leeway,
	}, nil)

	health := healthHandler.NewHandler(reg)
	for name, check := range checks {
		health.AddCheck(name, check)
	}
	handlers := api.Handlers{
		Rooms:    roomHandler.NewHandler(engine, logger),
		Messages: messagesHandler.NewHandler(engine, logger),
		Comments: commentsHandler.NewHandler(engine, logger),
		Socket:   socketHandler.NewHandler(engine, core, cfg.HTTP.AllowedOrigins, logger),
		Health:   health,
	}
	if cfg.Auth.DevTokens {
		sugar.Warnw("development token endpoint is enabled")
		handlers.Tokens = tokensHandler.NewHandler(verifier, cfg.Auth.TokenTTL, logger)
	}

	app := api.NewApplication(*cfg, handlers, auth.NewAuthenticator(verifier), limiter, m, logger, sugar)

	app.OnShutdown(func(ctx context.Context) error {
		health.SetHealthy(false)
		return core.Shutdown(ctx)
	})
	app.OnShutdown(func(context.Context) error {
		cancel()
		reg.Close()
		limiter.Close()
		return nil
	})
	for _, fn := range closers {
		app.OnShutdown(fn)
	}
	app.OnShutdown(shutdownTracer)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.Mount()
	if err := app.Run(mux); err != nil {
		sugar.Fatal(err)
	}
}
