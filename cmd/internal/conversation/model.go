// Package conversation owns conversations, messages and their per-viewer
// state (read receipts, hidden, muted) plus unread notification records.
//
// Store implementations work at the ciphertext level. Service is the only
// layer that sees plaintext: it validates, checks participancy, encrypts on
// write and decrypts on read.
package conversation

import (
	"slices"
	"time"
)

// Limits.
const (
	MaxBodyRunes      = 4000
	MaxAttachmentLen  = 2048
	MinParticipants   = 2
	MaxParticipants   = 64
	DefaultPageLimit  = 50
	MaxPageLimit      = 200
	maxSubjectPartLen = 128
)

// SubjectRef points at the entity a conversation is about (for example a
// listing). The core never dereferences it.
type SubjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Conversation is a participant set plus per-participant view state.
type Conversation struct {
	ID             string      `json:"id"`
	Participants   []string    `json:"participants"`
	Subject        *SubjectRef `json:"subject,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	Active         bool        `json:"active"`

	// HiddenFor and MutedFor are stored per participant; they are never
	// serialized to other participants.
	HiddenFor []string `json:"-"`
	MutedFor  []string `json:"-"`
}

// HasParticipant reports whether userID belongs to the participant set.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && slices.Contains(c.Participants, userID)
}

// IsHiddenFor reports whether userID archived the conversation.
func (c Conversation) IsHiddenFor(userID string) bool {
	return slices.Contains(c.HiddenFor, userID)
}

// IsMutedFor reports whether userID suppresses notifications for it.
func (c Conversation) IsMutedFor(userID string) bool {
	return slices.Contains(c.MutedFor, userID)
}

// Recipients returns every participant except senderID.
func (c Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out
}

// Receipt is the read state of one message for one recipient.
type Receipt struct {
	UserID string     `json:"user_id"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// MessageRecord is the persisted form of a message. Body is ciphertext when
// Encrypted is true and legacy plaintext otherwise.
type MessageRecord struct {
	ID             string
	ConversationID string
	Seq            int64
	SenderID       string
	Body           string
	Encrypted      bool
	Attachment     string
	Receipts       []Receipt
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// Message is the display form of a message with a plaintext body.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	Attachment     string    `json:"attachment,omitempty"`
	Receipts       []Receipt `json:"receipts,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReadBy reports whether userID has read the message.
func (m Message) ReadBy(userID string) bool {
	for _, r := range m.Receipts {
		if r.UserID == userID {
			return r.ReadAt != nil
		}
	}
	return false
}

// Notification is an unread-count bookkeeping record for one recipient of
// one message.
type Notification struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary is one row of a user's conversation list.
type Summary struct {
	Conversation Conversation `json:"conversation"`
	Unread       int          `json:"unread"`
	Muted        bool         `json:"muted"`
	LastMessage  *Message     `json:"last_message,omitempty"`
}

// MessagePage is a window of history ordered by seq ascending.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
