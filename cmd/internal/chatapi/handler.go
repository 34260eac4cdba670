// Package chatapi exposes the conversation store over request/response
// HTTP. Every successful send goes through the same fan-out as the
// websocket path.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"haven/cmd/internal/auth"
	"haven/cmd/internal/conversation"
	"haven/cmd/internal/ratelimit"
	"haven/cmd/internal/realtime"
	"haven/cmd/internal/telemetry"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxBodyBytes bounds every decoded request body.
const DefaultMaxBodyBytes int64 = 16 << 10

// Conversations is the slice of *conversation.Service the handler uses.
type Conversations interface {
	CreateConversation(ctx context.Context, participants []string, subject *conversation.SubjectRef) (conversation.Conversation, bool, error)
	FindConversation(ctx context.Context, participants []string) (conversation.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]conversation.Summary, error)
	AppendMessage(ctx context.Context, in conversation.AppendMessageInput) (conversation.Appended, error)
	ListMessages(ctx context.Context, in conversation.ListMessagesInput) (conversation.MessagePage, error)
	MarkRead(ctx context.Context, conversationID, userID string) (int, error)
	HideForUser(ctx context.Context, conversationID, userID string) error
	ClearHistory(ctx context.Context, conversationID, userID string) error
	HideMessageForUser(ctx context.Context, messageID, userID string) error
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
	DeleteMessage(ctx context.Context, messageID, userID string) (conversation.MessageRecord, error)
	UnreadCount(ctx context.Context, userID, conversationID string) (int, error)
}

var _ Conversations = (*conversation.Service)(nil)

// Fanout delivers committed messages and new conversations to live
// connections and out-of-band channels.
type Fanout interface {
	MessageCreated(conv conversation.Conversation, msg conversation.Message)
	ConversationStarted(conv conversation.Conversation, starterID string)
}

var _ Fanout = (*realtime.Relay)(nil)

// Limiter admits or rejects an attempt.
type Limiter interface {
	Allow(ctx context.Context, userID, conversationID string) error
}

// Handler serves the chat HTTP API.
type Handler struct {
	log      *slog.Logger
	convs    Conversations
	fanout   Fanout
	authn    auth.Authenticator
	send     Limiter
	create   Limiter
	validate *validator.Validate
	metrics  *telemetry.Metrics
	maxBody  int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithSendLimiter overrides the HTTP send limiter.
func WithSendLimiter(l Limiter) Option {
	return func(h *Handler) {
		if l != nil {
			h.send = l
		}
	}
}

// WithCreateLimiter overrides the conversation creation limiter.
func WithCreateLimiter(l Limiter) Option {
	return func(h *Handler) {
		if l != nil {
			h.create = l
		}
	}
}

// WithMetrics records persisted messages and rate-limit rejections.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// NewHandler constructs a Handler. Limiters default to in-memory windows
// with HTTPSendPolicy and CreateConversationPolicy.
func NewHandler(log *slog.Logger, convs Conversations, fanout Fanout, authn auth.Authenticator, opts ...Option) (*Handler, error) {
	if convs == nil || fanout == nil || authn == nil {
		return nil, errors.New("chatapi: conversations, fanout and authenticator are required")
	}
	if log == nil {
		log = slog.Default()
	}
	store := ratelimit.NewMemoryStore()
	h := &Handler{
		log:      log,
		convs:    convs,
		fanout:   fanout,
		authn:    authn,
		send:     ratelimit.NewLimiter(store, ratelimit.HTTPSendPolicy, ratelimit.WithLogger(log)),
		create:   ratelimit.NewLimiter(store, ratelimit.CreateConversationPolicy, ratelimit.WithLogger(log)),
		validate: validator.New(),
		maxBody:  DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /conversations", h.authed(h.listConversations))
	mux.Handle("POST /conversations", h.authed(h.startConversation))
	mux.Handle("GET /conversations/{id}/messages", h.authed(h.listMessages))
	mux.Handle("POST /conversations/{id}/messages", h.authed(h.sendMessage))
	mux.Handle("POST /conversations/{id}/read", h.authed(h.markRead))
	mux.Handle("PUT /conversations/{id}/mute", h.authed(h.setMuted(true)))
	mux.Handle("DELETE /conversations/{id}/mute", h.authed(h.setMuted(false)))
	mux.Handle("POST /conversations/{id}/hide", h.authed(h.hideConversation))
	mux.Handle("POST /conversations/{id}/clear", h.authed(h.clearHistory))
	mux.Handle("POST /messages/{id}/hide", h.authed(h.hideMessage))
	mux.Handle("DELETE /messages/{id}", h.authed(h.deleteMessage))
	mux.Handle("GET /notifications/unread", h.authed(h.unread))
}

type authedFunc func(w http.ResponseWriter, r *http.Request, id auth.Identity)

func (h *Handler) authed(fn authedFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.authn.Authenticate(r)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				h.log.Warn("chatapi.auth.reject", "path", r.URL.Path, "err", err)
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		fn(w, r.WithContext(auth.WithIdentity(r.Context(), id)), id)
	})
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	list, err := h.convs.ListConversations(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, "conversations.list", err)
		return
	}
	writeJSON(w, http.StatusOK, conversationListResponse{Conversations: list})
}

// startConversation returns the existing conversation for the participant
// set when there is one, so only genuine creations count against the
// creation policy.
func (h *Handler) startConversation(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req createConversationRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		invalidRequest(w, err)
		return
	}

	ctx := r.Context()
	participants := append([]string{id.UserID}, req.ParticipantIDs...)

	conv, err := h.convs.FindConversation(ctx, participants)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrConversationNotFound):
		if err := h.create.Allow(ctx, id.UserID, ""); err != nil {
			h.writeServiceError(w, "conversations.create", err)
			return
		}
		var subject *conversation.SubjectRef
		if req.Subject != nil {
			subject = &conversation.SubjectRef{Type: req.Subject.Type, ID: req.Subject.ID}
		}
		conv, created, err = h.convs.CreateConversation(ctx, participants, subject)
		if err != nil {
			h.writeServiceError(w, "conversations.create", err)
			return
		}
	default:
		h.writeServiceError(w, "conversations.find", err)
		return
	}

	if created {
		h.fanout.ConversationStarted(conv, id.UserID)
	}

	resp := conversationResponse{Conversation: conv, Created: created}
	if strings.TrimSpace(req.Message) != "" || strings.TrimSpace(req.Attachment) != "" {
		app, err := h.append(ctx, conv.ID, id.UserID, req.Message, req.Attachment)
		if err != nil {
			h.writeServiceError(w, "conversations.first_message", err)
			return
		}
		resp.Conversation = app.Conversation
		resp.Message = &app.Message
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	convID := r.PathValue("id")
	q := r.URL.Query()

	in := conversation.ListMessagesInput{ConversationID: convID, UserID: id.UserID}
	if v := strings.TrimSpace(q.Get("after_seq")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "after_seq must be a non-negative integer")
			return
		}
		in.AfterSeq = &n
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		in.Limit = n
	}

	page, err := h.convs.ListMessages(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, "messages.list", err)
		return
	}

	// Reading history marks the conversation read for the requester.
	if _, err := h.convs.MarkRead(r.Context(), convID, id.UserID); err != nil {
		h.log.Warn("chatapi.messages.mark_read.fail", "conversation_id", convID, "user_id", id.UserID, "err", err)
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		invalidRequest(w, err)
		return
	}

	convID := r.PathValue("id")
	if err := h.send.Allow(r.Context(), id.UserID, convID); err != nil {
		h.writeServiceError(w, "messages.send", err)
		return
	}

	app, err := h.append(r.Context(), convID, id.UserID, req.Content, req.Attachment)
	if err != nil {
		h.writeServiceError(w, "messages.send", err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: app.Message})
}

func (h *Handler) append(ctx context.Context, convID, userID, body, attachment string) (conversation.Appended, error) {
	app, err := h.convs.AppendMessage(ctx, conversation.AppendMessageInput{
		ConversationID: convID,
		SenderID:       userID,
		Body:           body,
		Attachment:     attachment,
	})
	if err != nil {
		return conversation.Appended{}, err
	}
	h.metrics.MessagePersisted("http")
	h.fanout.MessageCreated(app.Conversation, app.Message)
	return app, nil
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	n, err := h.convs.MarkRead(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		h.writeServiceError(w, "conversations.read", err)
		return
	}
	writeJSON(w, http.StatusOK, readResponse{Updated: n})
}

func (h *Handler) setMuted(muted bool) authedFunc {
	return func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		if err := h.convs.SetMuted(r.Context(), r.PathValue("id"), id.UserID, muted); err != nil {
			h.writeServiceError(w, "conversations.mute", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) hideConversation(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := h.convs.HideForUser(r.Context(), r.PathValue("id"), id.UserID); err != nil {
		h.writeServiceError(w, "conversations.hide", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := h.convs.ClearHistory(r.Context(), r.PathValue("id"), id.UserID); err != nil {
		h.writeServiceError(w, "conversations.clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) hideMessage(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := h.convs.HideMessageForUser(r.Context(), r.PathValue("id"), id.UserID); err != nil {
		h.writeServiceError(w, "messages.hide", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if _, err := h.convs.DeleteMessage(r.Context(), r.PathValue("id"), id.UserID); err != nil {
		h.writeServiceError(w, "messages.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unread(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	n, err := h.convs.UnreadCount(r.Context(), id.UserID, strings.TrimSpace(r.URL.Query().Get("conversation_id")))
	if err != nil {
		h.writeServiceError(w, "notifications.unread", err)
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{Unread: n})
}
