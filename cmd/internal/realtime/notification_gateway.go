package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"haven/cmd/internal/auth"
	"haven/cmd/internal/ids"
	"haven/cmd/internal/telemetry"

	"github.com/coder/websocket"
)

// NotificationRoute is the pattern NotificationGateway expects to be mounted on.
const NotificationRoute = "GET /ws/notifications"

// NotificationGateway serves a user's personal channel. The connection is
// registered with the hub but joins no room, so only SendToUser reaches it.
// Inbound frames are discarded.
type NotificationGateway struct {
	log     *slog.Logger
	cfg     GatewayConfig
	origins originPolicy
	hub     *Hub
	authn   auth.Authenticator
	metrics *telemetry.Metrics
}

// NewNotificationGateway constructs a NotificationGateway. metrics may be nil.
func NewNotificationGateway(log *slog.Logger, cfg GatewayConfig, hub *Hub, authn auth.Authenticator, metrics *telemetry.Metrics) (*NotificationGateway, error) {
	if hub == nil || authn == nil {
		return nil, errors.New("realtime: notification gateway needs hub and authenticator")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &NotificationGateway{
		log:     log,
		cfg:     cfg,
		origins: newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
		hub:     hub,
		authn:   authn,
		metrics: metrics,
	}, nil
}

func (g *NotificationGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	id, err := g.authn.Authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := accept(w, r, g.cfg, g.origins)
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}

	connID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(id.UserID, connID, g.cfg.SendQueueSize)
	s := newSession(g.log, conn, client, g.cfg)

	g.hub.Register(client)
	g.metrics.ConnOpened("notifications")
	defer func() {
		g.hub.Unregister(client)
		g.metrics.ConnClosed("notifications")
	}()

	s.log.Info("ws.notifications.open")
	s.run(r.Context(), nil)
	s.log.Info("ws.notifications.close")
}
