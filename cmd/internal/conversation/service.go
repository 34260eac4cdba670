package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Codec encrypts message bodies at rest. Decrypt never fails; it returns a
// placeholder for tokens it cannot open.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) string
}

// Service is the plaintext-facing API over a Store.
type Service struct {
	log   *slog.Logger
	store Store
	codec Codec
	now   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. A codec is mandatory: messages are never
// stored in plaintext.
func NewService(store Store, codec Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("conversation: nil store")
	}
	if codec == nil {
		return nil, errors.New("conversation: nil codec")
	}
	s := &Service{
		log:   slog.Default(),
		store: store,
		codec: codec,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// CreateConversation starts a conversation or returns the existing one whose
// participant set contains all of participants. The bool reports creation.
func (s *Service) CreateConversation(ctx context.Context, participants []string, subject *SubjectRef) (Conversation, bool, error) {
	parts, err := normalizeParticipants(participants)
	if err != nil {
		return Conversation{}, false, err
	}
	subj, err := normalizeSubject(subject)
	if err != nil {
		return Conversation{}, false, err
	}

	c, created, err := s.store.CreateConversation(ctx, CreateInput{
		Participants: parts,
		Subject:      subj,
		Now:          s.now(),
	})
	if err != nil {
		return Conversation{}, false, fmt.Errorf("create conversation: %w", err)
	}
	if created {
		s.log.Info("conversation.create", "conversation_id", c.ID, "participants", len(c.Participants))
	}
	return c, created, nil
}

// FindConversation returns the conversation CreateConversation would return
// for participants, or ErrConversationNotFound.
func (s *Service) FindConversation(ctx context.Context, participants []string) (Conversation, error) {
	parts, err := normalizeParticipants(participants)
	if err != nil {
		return Conversation{}, err
	}
	return s.store.FindByParticipants(ctx, parts)
}

// GetConversation loads a conversation without an access check.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, ErrConversationNotFound
	}
	return s.store.GetConversation(ctx, conversationID)
}

// EnsureParticipant loads the conversation and checks that userID belongs
// to it. It returns ErrConversationNotFound or a *PermissionError.
func (s *Service) EnsureParticipant(ctx context.Context, conversationID, userID string) (Conversation, error) {
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if !c.HasParticipant(strings.TrimSpace(userID)) {
		s.log.Warn("conversation.permission.denied", "conversation_id", c.ID, "user_id", userID)
		return Conversation{}, denied("access", c.ID, userID, ErrNotParticipant)
	}
	return c, nil
}

// ListConversations returns userID's visible conversations, most recently
// active first, with unread counts and a decrypted last-message preview.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id", ErrMissingID)
	}

	rows, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		sum := Summary{
			Conversation: r.Conversation,
			Unread:       r.Unread,
			Muted:        r.Conversation.IsMutedFor(userID),
		}
		if r.Last != nil {
			m := s.display(*r.Last)
			sum.LastMessage = &m
		}
		out = append(out, sum)
	}
	return out, nil
}

// AppendMessageInput is a send request from a participant.
type AppendMessageInput struct {
	ConversationID string
	SenderID       string
	Body           string
	Attachment     string
}

// Appended is a committed message plus what fan-out needs.
type Appended struct {
	Message       Message
	Conversation  Conversation
	Notifications []Notification
}

// AppendMessage validates, encrypts and persists a message. In the same
// atomic step it unhides the conversation, bumps last activity and records
// one unread notification per recipient.
func (s *Service) AppendMessage(ctx context.Context, in AppendMessageInput) (Appended, error) {
	trimmed := strings.TrimSpace(in.Body)
	attachment := strings.TrimSpace(in.Attachment)
	sender := strings.TrimSpace(in.SenderID)

	if sender == "" {
		return Appended{}, invalid("sender_id", ErrMissingID)
	}
	if trimmed == "" && attachment == "" {
		return Appended{}, invalid("body", ErrEmptyMessage)
	}
	if utf8.RuneCountInString(trimmed) > MaxBodyRunes {
		return Appended{}, invalid("body", ErrMessageTooLong)
	}
	if len(attachment) > MaxAttachmentLen {
		return Appended{}, invalid("attachment", ErrAttachmentTooLong)
	}

	if _, err := s.EnsureParticipant(ctx, in.ConversationID, sender); err != nil {
		return Appended{}, err
	}

	// Whitespace only matters for validation; the stored body is what was sent.
	body := in.Body
	if trimmed == "" {
		body = ""
	}
	token, err := s.codec.Encrypt(body)
	if err != nil {
		return Appended{}, fmt.Errorf("encrypt message: %w", err)
	}

	res, err := s.store.AppendMessage(ctx, AppendInput{
		ConversationID: strings.TrimSpace(in.ConversationID),
		SenderID:       sender,
		Body:           token,
		Encrypted:      true,
		Attachment:     attachment,
		Now:            s.now(),
	})
	if errors.Is(err, ErrNotParticipant) {
		return Appended{}, denied("send", in.ConversationID, sender, ErrNotParticipant)
	}
	if err != nil {
		return Appended{}, fmt.Errorf("append message: %w", err)
	}

	msg := s.display(res.Message)
	msg.Body = body

	s.log.Debug("conversation.message.append",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"seq", msg.Seq,
		"recipients", len(res.Notifications),
	)

	return Appended{
		Message:       msg,
		Conversation:  res.Conversation,
		Notifications: res.Notifications,
	}, nil
}

// ListMessagesInput is a history query.
type ListMessagesInput struct {
	ConversationID string
	UserID         string
	AfterSeq       *int64
	Limit          int
}

// ListMessages returns history visible to the requester, oldest first, with
// bodies decrypted. Messages the requester hid and deleted messages are
// excluded.
func (s *Service) ListMessages(ctx context.Context, in ListMessagesInput) (MessagePage, error) {
	c, err := s.EnsureParticipant(ctx, in.ConversationID, in.UserID)
	if err != nil {
		return MessagePage{}, err
	}

	recs, hasMore, err := s.store.ListMessages(ctx, ListInput{
		ConversationID: c.ID,
		ViewerID:       strings.TrimSpace(in.UserID),
		AfterSeq:       in.AfterSeq,
		Limit:          in.Limit,
	})
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}

	out := make([]Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, s.display(r))
	}
	return MessagePage{Messages: out, HasMore: hasMore}, nil
}

// MarkRead marks every unread message addressed to userID in the
// conversation as read. It is idempotent and returns the number of receipts
// that changed.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (int, error) {
	c, err := s.EnsureParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.MarkConversationRead(ctx, c.ID, strings.TrimSpace(userID), s.now())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// MarkMessageRead marks one message read for userID. The message must belong
// to conversationID. The bool reports whether the receipt changed.
func (s *Service) MarkMessageRead(ctx context.Context, conversationID, messageID, userID string) (bool, error) {
	c, err := s.EnsureParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	rec, err := s.store.GetMessage(ctx, strings.TrimSpace(messageID))
	if err != nil {
		return false, err
	}
	if rec.ConversationID != c.ID || rec.DeletedAt != nil {
		return false, ErrMessageNotFound
	}
	changed, err := s.store.MarkMessageRead(ctx, rec.ID, strings.TrimSpace(userID), s.now())
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	return changed, nil
}

// HideForUser archives the conversation from userID's list until a new
// message arrives. Other participants are unaffected.
func (s *Service) HideForUser(ctx context.Context, conversationID, userID string) error {
	return s.hide(ctx, conversationID, userID, false)
}

// ClearHistory archives the conversation for userID and hides every message
// currently in it from their view.
func (s *Service) ClearHistory(ctx context.Context, conversationID, userID string) error {
	return s.hide(ctx, conversationID, userID, true)
}

func (s *Service) hide(ctx context.Context, conversationID, userID string, clearHistory bool) error {
	c, err := s.EnsureParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := s.store.HideConversation(ctx, c.ID, strings.TrimSpace(userID), clearHistory, s.now()); err != nil {
		return fmt.Errorf("hide conversation: %w", err)
	}
	return nil
}

// HideMessageForUser hides one message from userID's view only.
func (s *Service) HideMessageForUser(ctx context.Context, messageID, userID string) error {
	rec, err := s.messageForParticipant(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if err := s.store.HideMessage(ctx, rec.ID, strings.TrimSpace(userID), s.now()); err != nil {
		return fmt.Errorf("hide message: %w", err)
	}
	return nil
}

// SetMuted toggles notification suppression for userID.
func (s *Service) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	c, err := s.EnsureParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := s.store.SetMuted(ctx, c.ID, strings.TrimSpace(userID), muted); err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return nil
}

// DeleteMessage soft-deletes a message. Only its sender may do so.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string) (MessageRecord, error) {
	rec, err := s.messageForParticipant(ctx, messageID, userID)
	if err != nil {
		return MessageRecord{}, err
	}
	if rec.SenderID != strings.TrimSpace(userID) {
		return MessageRecord{}, denied("delete", rec.ConversationID, userID, ErrNotSender)
	}
	if err := s.store.SoftDeleteMessage(ctx, rec.ID, s.now()); err != nil {
		return MessageRecord{}, fmt.Errorf("delete message: %w", err)
	}
	return rec, nil
}

// UnreadCount counts userID's unread notifications, globally when
// conversationID is empty.
func (s *Service) UnreadCount(ctx context.Context, userID, conversationID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, invalid("user_id", ErrMissingID)
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID != "" {
		if _, err := s.EnsureParticipant(ctx, conversationID, userID); err != nil {
			return 0, err
		}
	}
	return s.store.UnreadCount(ctx, userID, conversationID)
}

func (s *Service) messageForParticipant(ctx context.Context, messageID, userID string) (MessageRecord, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return MessageRecord{}, ErrMessageNotFound
	}
	rec, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return MessageRecord{}, err
	}
	if rec.DeletedAt != nil {
		return MessageRecord{}, ErrMessageNotFound
	}
	if _, err := s.EnsureParticipant(ctx, rec.ConversationID, userID); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}

// display decrypts a record. Legacy rows written before encryption carry
// plaintext and are returned as is.
func (s *Service) display(r MessageRecord) Message {
	body := r.Body
	if r.Encrypted {
		body = s.codec.Decrypt(r.Body)
	}
	return Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Seq:            r.Seq,
		SenderID:       r.SenderID,
		Body:           body,
		Attachment:     r.Attachment,
		Receipts:       r.Receipts,
		CreatedAt:      r.CreatedAt,
	}
}

func normalizeParticipants(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	if len(out) < MinParticipants {
		return nil, invalid("participants", ErrTooFewParticipants)
	}
	if len(out) > MaxParticipants {
		return nil, invalid("participants", ErrTooManyParticipants)
	}
	slices.Sort(out)
	return out, nil
}

func normalizeSubject(in *SubjectRef) (*SubjectRef, error) {
	if in == nil {
		return nil, nil
	}
	out := &SubjectRef{Type: strings.TrimSpace(in.Type), ID: strings.TrimSpace(in.ID)}
	if out.Type == "" && out.ID == "" {
		return nil, nil
	}
	if out.Type == "" || out.ID == "" || len(out.Type) > maxSubjectPartLen || len(out.ID) > maxSubjectPartLen {
		return nil, invalid("subject", ErrInvalidSubject)
	}
	return out, nil
}
