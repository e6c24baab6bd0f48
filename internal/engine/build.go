package engine

import (
	"github.com/hilthontt/roomsync/internal/conversations"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/api"
	"github.com/hilthontt/roomsync/internal/infrastructure/configs"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/session"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/hilthontt/roomsync/internal/room"
	"go.uber.org/zap"
)

// Components are the production collaborators assembled from config.
type Components struct {
	Client   *api.Client
	Sessions *session.Store
	Engine   *Engine
}

func Build(cfg *configs.Config, logger *zap.Logger, m *metrics.Metrics) *Components {
	sessions := session.NewOSStore(cfg.Session.Path)

	opts := []api.Option{
		api.WithBaseURL(cfg.API.BaseURL),
		api.WithUploadURL(cfg.API.UploadURL),
		api.WithHTTPClient(api.NewHTTPClient(cfg.API.Timeout)),
		api.WithTokenSource(sessions),
		api.WithMaxRetries(cfg.API.MaxRetries, cfg.API.RetryDelay),
		api.WithMaxUploadBytes(cfg.API.MaxUploadBytes),
		api.WithLogger(logger),
		api.WithMetrics(m),
	}
	if cfg.API.Debug {
		opts = append(opts, api.WithDebugLog(logger))
	}
	client := api.NewClient(opts...)

	wsBase := cfg.WS.BaseURL
	if wsBase == "" {
		wsBase = ws.BaseURLFromHTTP(cfg.API.BaseURL)
	}
	dial := room.ManagerFactory(wsBase,
		ws.WithLogger(logger),
		ws.WithMetrics(m),
		ws.WithRetryPolicy(cfg.WS.Retry),
		ws.WithHandshakeTimeout(cfg.WS.HandshakeTimeout),
		ws.WithPingInterval(cfg.WS.PingInterval),
	)

	convs := conversations.NewSynchronizer(client, sessions,
		conversations.WithLogger(logger),
		conversations.WithMetrics(m),
		conversations.WithPollInterval(cfg.Conversations.PollInterval),
		conversations.WithDedupWindow(cfg.Room.DedupWindow),
	)

	roomCfg := room.Config{
		HistoryLimit:   cfg.Room.HistoryLimit,
		DedupWindow:    cfg.Room.DedupWindow,
		PendingTimeout: cfg.Room.PendingTimeout,
		TypingIdle:     cfg.Room.TypingIdle,
		Capacity:       cfg.Room.Capacity,
	}
	backend := room.NewAPIBackend(client)
	newRoom := func() *room.Controller {
		return room.NewController(backend, sessions, dial, roomCfg,
			room.WithLogger(logger),
			room.WithMetrics(m),
			room.WithMessageHook(func(msg domain.Message) { convs.ApplyLive(msg) }),
			room.WithPresenceHook(convs.SetPresence),
		)
	}

	return &Components{
		Client:   client,
		Sessions: sessions,
		Engine:   New(client.Users, sessions, convs, newRoom, logger),
	}
}
