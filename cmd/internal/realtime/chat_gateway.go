package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"haven/cmd/internal/auth"
	"haven/cmd/internal/conversation"
	"haven/cmd/internal/ids"
	"haven/cmd/internal/ratelimit"
	"haven/cmd/internal/telemetry"
	v1 "haven/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// ChatRoute is the pattern ChatGateway expects to be mounted on.
const ChatRoute = "GET /ws/chat/{conversation_id}"

// Conversations is the slice of conversation.Service a chat session uses.
type Conversations interface {
	EnsureParticipant(ctx context.Context, conversationID, userID string) (conversation.Conversation, error)
	AppendMessage(ctx context.Context, in conversation.AppendMessageInput) (conversation.Appended, error)
	MarkMessageRead(ctx context.Context, conversationID, messageID, userID string) (bool, error)
}

var _ Conversations = (*conversation.Service)(nil)

// ChatGateway serves one conversation room per websocket.
//
// The handshake is rejected before upgrade when the caller is not
// authenticated (401), the conversation does not exist (404) or the caller is
// not a participant (403). Once joined, inbound frames are handled in order:
// "message" is rate limited, persisted and relayed; "typing" is broadcast to
// the rest of the room; "read" marks one message read and broadcasts a
// receipt. Unknown types are ignored and malformed frames get an error
// event without closing the connection.
type ChatGateway struct {
	log     *slog.Logger
	cfg     GatewayConfig
	origins originPolicy

	hub     *Hub
	relay   *Relay
	convs   Conversations
	authn   auth.Authenticator
	live    *ratelimit.Limiter
	frames  *ratelimit.Limiter
	metrics *telemetry.Metrics
}

// ChatOption configures a ChatGateway.
type ChatOption func(*ChatGateway)

// WithLiveLimiter replaces the per-(user, conversation) send limiter.
func WithLiveLimiter(l *ratelimit.Limiter) ChatOption {
	return func(g *ChatGateway) {
		if l != nil {
			g.live = l
		}
	}
}

// WithFrameLimiter replaces the per-connection frame flood guard.
func WithFrameLimiter(l *ratelimit.Limiter) ChatOption {
	return func(g *ChatGateway) {
		if l != nil {
			g.frames = l
		}
	}
}

// WithChatMetrics records connection and message metrics.
func WithChatMetrics(m *telemetry.Metrics) ChatOption {
	return func(g *ChatGateway) { g.metrics = m }
}

// NewChatGateway constructs a ChatGateway. Limiters default to in-memory
// windows with LivePolicy and FramePolicy.
func NewChatGateway(log *slog.Logger, cfg GatewayConfig, hub *Hub, relay *Relay, convs Conversations, authn auth.Authenticator, opts ...ChatOption) (*ChatGateway, error) {
	if hub == nil || relay == nil || convs == nil || authn == nil {
		return nil, errors.New("realtime: chat gateway needs hub, relay, conversations and authenticator")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()

	g := &ChatGateway{
		log:     log,
		cfg:     cfg,
		origins: newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
		hub:     hub,
		relay:   relay,
		convs:   convs,
		authn:   authn,
		live:    ratelimit.NewLimiter(nil, ratelimit.LivePolicy, ratelimit.WithLogger(log)),
		frames:  ratelimit.NewLimiter(nil, ratelimit.FramePolicy, ratelimit.WithLogger(log)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *ChatGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	convID := strings.TrimSpace(r.PathValue("conversation_id"))
	if !ids.Valid(convID) {
		g.log.Info("ws.reject.not_found", "conversation_id", convID, "user_id", id.UserID)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	conv, err := g.convs.EnsureParticipant(r.Context(), convID, id.UserID)
	switch {
	case err == nil:
	case conversation.IsNotFound(err):
		g.log.Info("ws.reject.not_found", "conversation_id", convID, "user_id", id.UserID)
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, conversation.ErrPermission):
		g.log.Info("ws.reject.forbidden", "conversation_id", convID, "user_id", id.UserID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	default:
		g.log.Error("ws.reject.lookup_fail", "conversation_id", convID, "user_id", id.UserID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
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
	g.hub.JoinRoom(conv.ID, client)
	g.metrics.ConnOpened("chat")
	defer func() {
		g.hub.Unregister(client)
		g.metrics.ConnClosed("chat")
	}()

	s.log.Info("ws.chat.open", "conversation_id", conv.ID, "auth_session_id", id.SessionID)
	s.run(r.Context(), func(ctx context.Context, data []byte) error {
		return g.handleFrame(ctx, s, conv.ID, data)
	})
	s.log.Info("ws.chat.close", "conversation_id", conv.ID)
}

func (g *ChatGateway) handleFrame(ctx context.Context, s *session, convID string, data []byte) error {
	if err := g.frames.Allow(ctx, s.client.SessionID, ""); err != nil {
		g.metrics.RateLimited(g.frames.Policy().Name)
		s.sendError(v1.CodeRateLimited, "too many frames")
		return &closeError{code: websocket.StatusPolicyViolation, reason: "rate limited"}
	}

	f, err := v1.Decode(data)
	if errors.Is(err, v1.ErrUnknownType) {
		s.log.Debug("ws.frame.unknown", "type", f.Type)
		return nil
	}
	if err != nil {
		s.sendError(v1.CodeBadFrame, err.Error())
		return nil
	}

	switch f.Type {
	case v1.TypeMessage:
		g.onMessage(ctx, s, convID, f)
	case v1.TypeTyping:
		g.hub.BroadcastToRoom(convID, v1.NewTypingEvent(s.client.UserID, *f.IsTyping), s.client)
	case v1.TypeRead:
		g.onRead(ctx, s, convID, f)
	}
	return nil
}

func (g *ChatGateway) onMessage(ctx context.Context, s *session, convID string, f v1.Frame) {
	if err := g.live.Allow(ctx, s.client.UserID, convID); err != nil {
		retry := 1
		var ex *ratelimit.ExceededError
		if errors.As(err, &ex) {
			retry = ex.RetryAfterSeconds()
		}
		g.metrics.RateLimited(g.live.Policy().Name)

		ev := v1.NewErrorEvent(v1.CodeRateLimited, "too many messages, slow down")
		ev.RetryAfter = retry
		_ = s.send(ev)
		return
	}

	res, err := g.convs.AppendMessage(ctx, conversation.AppendMessageInput{
		ConversationID: convID,
		SenderID:       s.client.UserID,
		Body:           f.Content,
		Attachment:     f.Attachment,
	})
	if err != nil {
		ev := errorEventFor(err)
		if ev.Code == v1.CodeInternal {
			s.log.Error("ws.message.fail", "conversation_id", convID, "err", err)
		}
		_ = s.send(ev)
		return
	}

	g.metrics.MessagePersisted("ws")
	g.relay.MessageCreated(res.Conversation, res.Message)
}

func (g *ChatGateway) onRead(ctx context.Context, s *session, convID string, f v1.Frame) {
	messageID := strings.TrimSpace(f.MessageID)
	changed, err := g.convs.MarkMessageRead(ctx, convID, messageID, s.client.UserID)
	if err != nil {
		ev := errorEventFor(err)
		if ev.Code == v1.CodeInternal {
			s.log.Error("ws.read.mark_fail", "conversation_id", convID, "message_id", messageID, "err", err)
		}
		_ = s.send(ev)
		return
	}
	// Own messages and repeated reads have no receipt to announce.
	if !changed {
		return
	}
	g.hub.BroadcastToRoom(convID, v1.NewReadReceiptEvent(messageID, s.client.UserID), nil)
}

// errorEventFor maps a service error to the frame sent back to the caller.
func errorEventFor(err error) v1.ErrorEvent {
	var ve *conversation.ValidationError
	switch {
	case errors.As(err, &ve):
		msg := ve.Error()
		if ve.Reason != nil {
			msg = ve.Reason.Error()
		}
		return v1.NewErrorEvent(v1.CodeInvalid, msg)
	case errors.Is(err, conversation.ErrPermission):
		return v1.NewErrorEvent(v1.CodeForbidden, "not a participant")
	case conversation.IsNotFound(err):
		return v1.NewErrorEvent(v1.CodeNotFound, err.Error())
	default:
		return v1.NewErrorEvent(v1.CodeInternal, "internal error")
	}
}
