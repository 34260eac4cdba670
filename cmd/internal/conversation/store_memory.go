package conversation

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"haven/cmd/internal/ids"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	convs         map[string]*memConv
	messages      map[string]*memMessage
	notifications map[string][]*Notification // user_id -> records, oldest first
}

type memConv struct {
	conv       Conversation
	hidden     map[string]time.Time
	muted      map[string]bool
	seq        int64
	messageIDs []string // seq order
}

type memMessage struct {
	rec       MessageRecord
	receipts  map[string]*time.Time
	hiddenFor map[string]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:         make(map[string]*memConv),
		messages:      make(map[string]*memMessage),
		notifications: make(map[string][]*Notification),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateConversation(ctx context.Context, in CreateInput) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	if len(in.Participants) < MinParticipants {
		return Conversation{}, false, ErrTooFewParticipants
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.findLocked(in.Participants); c != nil {
		return c.snapshot(), false, nil
	}

	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, false, err
	}

	c := &memConv{
		conv: Conversation{
			ID:             id,
			Participants:   slices.Clone(in.Participants),
			Subject:        cloneSubject(in.Subject),
			CreatedAt:      now,
			LastActivityAt: now,
			Active:         true,
		},
		hidden: make(map[string]time.Time),
		muted:  make(map[string]bool),
	}
	s.convs[id] = c
	return c.snapshot(), true, nil
}

func (s *MemoryStore) FindByParticipants(ctx context.Context, participants []string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if c := s.findLocked(participants); c != nil {
		return c.snapshot(), nil
	}
	return Conversation{}, ErrConversationNotFound
}

// findLocked returns the smallest (then oldest) conversation whose
// participant set contains every id in want.
func (s *MemoryStore) findLocked(want []string) *memConv {
	if len(want) == 0 {
		return nil
	}
	var best *memConv
	for _, c := range s.convs {
		if !containsAll(c.conv.Participants, want) {
			continue
		}
		if best == nil || betterMatch(c.conv, best.conv) {
			best = c
		}
	}
	return best
}

func betterMatch(a, b Conversation) bool {
	if len(a.Participants) != len(b.Participants) {
		return len(a.Participants) < len(b.Participants)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.convs[conversationID]
	if c == nil {
		return Conversation{}, ErrConversationNotFound
	}
	return c.snapshot(), nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]StoredSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	unread := make(map[string]int)
	for _, n := range s.notifications[userID] {
		if !n.Read {
			unread[n.ConversationID]++
		}
	}

	out := make([]StoredSummary, 0)
	for _, c := range s.convs {
		if !c.conv.HasParticipant(userID) {
			continue
		}
		if _, hidden := c.hidden[userID]; hidden {
			continue
		}

		sum := StoredSummary{Conversation: c.snapshot(), Unread: unread[c.conv.ID]}
		for i := len(c.messageIDs) - 1; i >= 0; i-- {
			m := s.messages[c.messageIDs[i]]
			if m.visibleTo(userID) {
				rec := m.snapshot()
				sum.Last = &rec
				break
			}
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Conversation, out[j].Conversation
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return AppendResult{}, ErrConversationNotFound
	}
	if !c.conv.HasParticipant(in.SenderID) {
		return AppendResult{}, ErrNotParticipant
	}

	now := nowOr(in.Now)
	msgID, err := ids.NewULID(now)
	if err != nil {
		return AppendResult{}, err
	}

	recipients := c.conv.Recipients(in.SenderID)
	notes := make([]Notification, 0, len(recipients))
	for _, r := range recipients {
		nid, err := ids.NewULID(now)
		if err != nil {
			return AppendResult{}, err
		}
		notes = append(notes, Notification{
			ID:             nid,
			UserID:         r,
			ConversationID: c.conv.ID,
			MessageID:      msgID,
			CreatedAt:      now,
		})
	}

	// Nothing below can fail, so the append is all-or-nothing.
	c.seq++
	m := &memMessage{
		rec: MessageRecord{
			ID:             msgID,
			ConversationID: c.conv.ID,
			Seq:            c.seq,
			SenderID:       in.SenderID,
			Body:           in.Body,
			Encrypted:      in.Encrypted,
			Attachment:     in.Attachment,
			CreatedAt:      now,
		},
		receipts:  make(map[string]*time.Time, len(recipients)),
		hiddenFor: make(map[string]bool),
	}
	for _, r := range recipients {
		m.receipts[r] = nil
	}
	s.messages[msgID] = m
	c.messageIDs = append(c.messageIDs, msgID)

	for i := range notes {
		n := notes[i]
		s.notifications[n.UserID] = append(s.notifications[n.UserID], &n)
	}

	clear(c.hidden)
	if now.After(c.conv.LastActivityAt) {
		c.conv.LastActivityAt = now
	}

	return AppendResult{
		Message:       m.snapshot(),
		Conversation:  c.snapshot(),
		Notifications: notes,
	}, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, messageID string) (MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return MessageRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.messages[messageID]
	if m == nil {
		return MessageRecord{}, ErrMessageNotFound
	}
	return m.snapshot(), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, in ListInput) ([]MessageRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	limit := clampLimit(in.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return nil, false, ErrConversationNotFound
	}

	out := make([]MessageRecord, 0, limit+1)
	for _, id := range c.messageIDs {
		m := s.messages[id]
		if in.AfterSeq != nil && m.rec.Seq <= *in.AfterSeq {
			continue
		}
		if !m.visibleTo(in.ViewerID) {
			continue
		}
		out = append(out, m.snapshot())
		if len(out) > limit {
			break
		}
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, conversationID, userID string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now = nowOr(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return 0, ErrConversationNotFound
	}

	changed := 0
	for _, id := range c.messageIDs {
		if s.markReadLocked(s.messages[id], userID, now) {
			changed++
		}
	}
	for _, n := range s.notifications[userID] {
		if n.ConversationID == conversationID {
			n.Read = true
		}
	}
	return changed, nil
}

func (s *MemoryStore) MarkMessageRead(ctx context.Context, messageID, userID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now = nowOr(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.messages[messageID]
	if m == nil {
		return false, ErrMessageNotFound
	}
	changed := s.markReadLocked(m, userID, now)
	for _, n := range s.notifications[userID] {
		if n.MessageID == messageID {
			n.Read = true
		}
	}
	return changed, nil
}

func (s *MemoryStore) markReadLocked(m *memMessage, userID string, now time.Time) bool {
	readAt, ok := m.receipts[userID]
	if !ok || readAt != nil {
		return false
	}
	t := now
	m.receipts[userID] = &t
	return true
}

func (s *MemoryStore) HideConversation(ctx context.Context, conversationID, userID string, clearHistory bool, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now = nowOr(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return ErrConversationNotFound
	}
	if !c.conv.HasParticipant(userID) {
		return ErrNotParticipant
	}
	c.hidden[userID] = now
	if clearHistory {
		for _, id := range c.messageIDs {
			s.messages[id].hiddenFor[userID] = true
		}
	}
	return nil
}

func (s *MemoryStore) HideMessage(ctx context.Context, messageID, userID string, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.messages[messageID]
	if m == nil {
		return ErrMessageNotFound
	}
	m.hiddenFor[userID] = true
	return nil
}

func (s *MemoryStore) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return ErrConversationNotFound
	}
	if !c.conv.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if muted {
		c.muted[userID] = true
	} else {
		delete(c.muted, userID)
	}
	return nil
}

func (s *MemoryStore) SoftDeleteMessage(ctx context.Context, messageID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now = nowOr(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.messages[messageID]
	if m == nil {
		return ErrMessageNotFound
	}
	if m.rec.DeletedAt == nil {
		t := now
		m.rec.DeletedAt = &t
	}
	return nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.notifications[userID] {
		if rec.Read {
			continue
		}
		if conversationID != "" && rec.ConversationID != conversationID {
			continue
		}
		n++
	}
	return n, nil
}

func (c *memConv) snapshot() Conversation {
	out := c.conv
	out.Participants = slices.Clone(c.conv.Participants)
	out.Subject = cloneSubject(c.conv.Subject)
	out.HiddenFor = sortedKeys(c.hidden)
	out.MutedFor = sortedKeys(c.muted)
	return out
}

func (m *memMessage) visibleTo(userID string) bool {
	return m.rec.DeletedAt == nil && !m.hiddenFor[userID]
}

func (m *memMessage) snapshot() MessageRecord {
	out := m.rec
	if m.rec.DeletedAt != nil {
		t := *m.rec.DeletedAt
		out.DeletedAt = &t
	}
	out.Receipts = make([]Receipt, 0, len(m.receipts))
	for uid, at := range m.receipts {
		r := Receipt{UserID: uid}
		if at != nil {
			t := *at
			r.ReadAt = &t
		}
		out.Receipts = append(out.Receipts, r)
	}
	sort.Slice(out.Receipts, func(i, j int) bool { return out.Receipts[i].UserID < out.Receipts[j].UserID })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

func cloneSubject(s *SubjectRef) *SubjectRef {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

