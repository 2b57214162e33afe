package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/configs"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/metrics"
	"github.com/hilthontt/readalong/internal/infrastructure/ratelimiter"
	commentsHandler "github.com/hilthontt/readalong/internal/presentation/handler/comments"
	healthHandler "github.com/hilthontt/readalong/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/readalong/internal/presentation/handler/messages"
	roomHandler "github.com/hilthontt/readalong/internal/presentation/handler/rooms"
	socketHandler "github.com/hilthontt/readalong/internal/presentation/handler/socket"
	tokensHandler "github.com/hilthontt/readalong/internal/presentation/handler/tokens"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (domain.Identity, error)
}

// AuthLimiter guards credential checks per client address.
type AuthLimiter interface {
	Check(cat ratelimiter.Category, identifier string) ratelimiter.Decision
	Reset(cat ratelimiter.Category, identifier string)
}

type Handlers struct {
	Rooms    *roomHandler.Handler
	Messages *messagesHandler.Handler
	Comments *commentsHandler.Handler
	Socket   *socketHandler.Handler
	Health   *healthHandler.Handler
	// Tokens is nil unless development tokens are enabled.
	Tokens *tokensHandler.Handler
}

type Application struct {
	config        configs.Config
	handlers      Handlers
	authenticator Authenticator
	ratelimiter   AuthLimiter
	metrics       *metrics.Metrics
	logger        logging.Logger
	sugar         *zap.SugaredLogger

	// onShutdown runs after the HTTP server stops accepting requests.
	onShutdown []func(context.Context) error
}

func NewApplication(
	config configs.Config,
	handlers Handlers,
	authenticator Authenticator,
	ratelimiter AuthLimiter,
	metrics *metrics.Metrics,
	logger logging.Logger,
	sugar *zap.SugaredLogger,
) *Application {
	return &Application{
		config:        config,
		handlers:      handlers,
		authenticator: authenticator,
		ratelimiter:   ratelimiter,
		metrics:       metrics,
		logger:        logger,
		sugar:         sugar,
	}
}

// OnShutdown registers fn to run during graceful shutdown, in order.
func (app *Application) OnShutdown(fn func(context.Context) error) {
	app.onShutdown = append(app.onShutdown, fn)
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(app.enableCors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", app.handlers.Health.GetHealth)

		if app.handlers.Tokens != nil {
			r.With(app.authLimitMiddleware).Post("/dev/token", app.handlers.Tokens.IssueTokenHandler)
		}

		// sockets outlive the request timeout
		r.Group(func(r chi.Router) {
			r.Use(app.authMiddleware)
			r.Get("/ws", app.handlers.Socket.ServeWS)
			r.Get("/ws/{code}", app.handlers.Socket.ServeWS)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(app.requestTimeout()))
			r.Use(app.authMiddleware)

			r.Route("/rooms", func(r chi.Router) {
				r.Post("/", app.handlers.Rooms.CreateRoomHandler)
				r.Route("/{code}", func(r chi.Router) {
					r.Get("/", app.handlers.Rooms.GetRoomHandler)
					r.Delete("/", app.handlers.Rooms.DeleteRoomHandler)
					r.Post("/join", app.handlers.Rooms.JoinRoomHandler)
					r.Post("/leave", app.handlers.Rooms.LeaveRoomHandler)
					r.Post("/deactivate", app.handlers.Rooms.DeactivateRoomHandler)
					r.Patch("/position", app.handlers.Rooms.UpdatePositionHandler)
					r.Patch("/sync", app.handlers.Rooms.SetSyncHandler)
					r.Post("/heartbeat", app.handlers.Rooms.HeartbeatHandler)

					r.Get("/messages", app.handlers.Messages.ListMessagesHandler)
					r.Post("/messages", app.handlers.Messages.CreateNewMessageHandler)
					r.Post("/messages/{messageId}/reactions", app.handlers.Messages.ReactHandler)
					r.Post("/typing", app.handlers.Messages.TypingHandler)

					r.Get("/comments", app.handlers.Comments.ListCommentsHandler)
					r.Post("/comments", app.handlers.Comments.CreateCommentHandler)
				})
			})
		})
	})

	r.Get("/healthz", app.handlers.Health.GetHealth)
	r.Get("/ready", app.handlers.Health.GetReady)
	r.Get("/live", app.handlers.Health.GetHealth)
	r.Handle("/metrics", app.metrics.Handler())

	return otelhttp.NewHandler(r, "readalong-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (app *Application) Run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.HTTP.Host, app.config.HTTP.Port),
		Handler:      mux,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		IdleTimeout:  app.config.HTTP.IdleTimeout,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout())
		defer cancel()

		app.sugar.Infow("signal caught", "signal", s.String())

		err := srv.Shutdown(ctx)
		for _, fn := range app.onShutdown {
			err = errors.Join(err, fn(ctx))
		}
		shutdown <- err
	}()

	app.sugar.Infow("server has started", "addr", srv.Addr)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.sugar.Infow("server has stopped", "addr", srv.Addr)

	return nil
}

func (app *Application) requestTimeout() time.Duration {
	if app.config.HTTP.RequestTimeout > 0 {
		return app.config.HTTP.RequestTimeout
	}
	return 60 * time.Second
}

func (app *Application) shutdownTimeout() time.Duration {
	if app.config.HTTP.ShutdownTimeout > 0 {
		return app.config.HTTP.ShutdownTimeout
	}
	return 5 * time.Second
}
