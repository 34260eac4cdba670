package conversation

import (
	"context"
	"time"
)

// Store persists conversations and messages.
//
// Requirements:
//   - Every mutation is atomic per call.
//   - Seq is monotonic per conversation; concurrent appends never lose a row.
//   - CreateConversation is find-or-create under one critical section so two
//     racing starts for the same participant set converge on one row.
//   - Message bodies are opaque; the store never encrypts or decrypts.
type Store interface {
	CreateConversation(ctx context.Context, in CreateInput) (Conversation, bool, error)
	FindByParticipants(ctx context.Context, participants []string) (Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]StoredSummary, error)

	AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error)
	GetMessage(ctx context.Context, messageID string) (MessageRecord, error)
	ListMessages(ctx context.Context, in ListInput) ([]MessageRecord, bool, error)

	MarkConversationRead(ctx context.Context, conversationID, userID string, now time.Time) (int, error)
	MarkMessageRead(ctx context.Context, messageID, userID string, now time.Time) (bool, error)
	HideConversation(ctx context.Context, conversationID, userID string, clearHistory bool, now time.Time) error
	HideMessage(ctx context.Context, messageID, userID string, now time.Time) error
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
	SoftDeleteMessage(ctx context.Context, messageID string, now time.Time) error
	UnreadCount(ctx context.Context, userID, conversationID string) (int, error)

	Close() error
}

// CreateInput describes a new conversation. Participants are normalized
// (deduplicated, sorted) by the caller.
type CreateInput struct {
	Participants []string
	Subject      *SubjectRef
	Now          time.Time
}

// AppendInput describes a message append. Body is already encrypted when
// Encrypted is true.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Body           string
	Encrypted      bool
	Attachment     string
	Now            time.Time
}

// AppendResult is the outcome of a committed append.
type AppendResult struct {
	Message       MessageRecord
	Conversation  Conversation
	Notifications []Notification
}

// ListInput describes a history query for one viewer.
type ListInput struct {
	ConversationID string
	ViewerID       string
	AfterSeq       *int64
	Limit          int
}

// StoredSummary is a conversation list row before decryption.
type StoredSummary struct {
	Conversation Conversation
	Unread       int
	Last         *MessageRecord
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultPageLimit
	}
	if n > MaxPageLimit {
		return MaxPageLimit
	}
	return n
}
