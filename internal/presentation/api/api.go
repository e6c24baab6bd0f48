package api

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/roomsync/internal/engine"
	"github.com/hilthontt/roomsync/internal/infrastructure/configs"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/ratelimiter"
	conversationsHandler "github.com/hilthontt/roomsync/internal/presentation/handler/conversations"
	healthHandler "github.com/hilthontt/roomsync/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/roomsync/internal/presentation/handler/messages"
	roomHandler "github.com/hilthontt/roomsync/internal/presentation/handler/rooms"
	sessionHandler "github.com/hilthontt/roomsync/internal/presentation/handler/session"
	streamHandler "github.com/hilthontt/roomsync/internal/presentation/handler/stream"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 5 * time.Second
	requestTimeout  = 30 * time.Second
)

type Application struct {
	config               configs.ServerConfig
	healthHandler        *healthHandler.Handler
	sessionHandler       *sessionHandler.Handler
	conversationsHandler *conversationsHandler.Handler
	roomHandler          *roomHandler.Handler
	messagesHandler      *messagesHandler.Handler
	streamHandler        *streamHandler.Handler
	metrics              *metrics.Metrics
	logger               *zap.Logger
	ratelimiter          ratelimiter.Limiter
}

// NewApplication wires the local API over a running engine. A zero
// RequestsPerWindow disables rate limiting.
func NewApplication(config configs.ServerConfig, eng *engine.Engine, m *metrics.Metrics, logger *zap.Logger) *Application {
	config.ReadTimeout = cmp.Or(config.ReadTimeout, 10*time.Second)
	config.WriteTimeout = cmp.Or(config.WriteTimeout, requestTimeout)

	var limiter ratelimiter.Limiter
	if config.RequestsPerWindow > 0 {
		limiter = ratelimiter.NewFixedWindow(config.RequestsPerWindow, config.RateWindow)
	}

	return &Application{
		config:               config,
		healthHandler:        healthHandler.NewHandler(eng),
		sessionHandler:       sessionHandler.NewHandler(eng, logger),
		conversationsHandler: conversationsHandler.NewHandler(eng, logger),
		roomHandler:          roomHandler.NewHandler(eng, logger),
		messagesHandler:      messagesHandler.NewHandler(eng, logger),
		streamHandler:        streamHandler.NewHandler(eng, config.AllowedOrigins, logger),
		metrics:              m,
		logger:               logger,
		ratelimiter:          limiter,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(app.enableCors)

	r.Handle("/metrics", app.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", app.healthHandler.GetHealth)
		r.Get("/stream", app.streamHandler.StreamHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(app.config.WriteTimeout))
			r.Use(app.rateLimiterMiddleware)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", app.sessionHandler.GetSessionHandler)
				r.Post("/", app.sessionHandler.LoginHandler)
				r.Delete("/", app.sessionHandler.LogoutHandler)
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", app.conversationsHandler.ListHandler)
				r.Post("/refresh", app.conversationsHandler.RefreshHandler)
				r.Post("/read", app.conversationsHandler.MarkReadHandler)
			})

			r.Route("/rooms", func(r chi.Router) {
				r.Post("/{roomId}/open", app.roomHandler.OpenRoomHandler)

				r.Route("/current", func(r chi.Router) {
					r.Get("/", app.roomHandler.GetCurrentRoomHandler)
					r.Post("/typing", app.roomHandler.TypingHandler)
					r.Post("/reconnect", app.roomHandler.ReconnectHandler)

					r.Post("/attachments", app.messagesHandler.UploadAttachmentHandler)
					r.Post("/messages", app.messagesHandler.CreateNewMessageHandler)
					r.Put("/messages/{messageId}", app.messagesHandler.UpdateMessageHandler)
					r.Delete("/messages/{messageId}", app.messagesHandler.DeleteMessageHandler)
					r.Post("/messages/{messageId}/retract", app.messagesHandler.RetractMessageHandler)
				})
			})
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (app *Application) Run(ctx context.Context, mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.Addr(),
		Handler:      mux,
		ReadTimeout:  app.config.ReadTimeout,
		WriteTimeout: app.config.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error, 1)

	go func() {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		app.logger.Info("shutting down local api", zap.String("addr", srv.Addr))
		shutdown <- srv.Shutdown(sctx)
	}()

	app.logger.Info("local api has started", zap.String("addr", srv.Addr))

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	app.logger.Info("local api has stopped", zap.String("addr", srv.Addr))
	return nil
}
