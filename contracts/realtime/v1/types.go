package v1

import "time"

// Event is implemented by every server -> client frame.
type Event interface {
	EventType() string
}

// MessagePayload is the display form of a persisted message.
type MessagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Attachment     string    `json:"attachment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageEvent is broadcast to a room after a message is persisted.
type MessageEvent struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// NewMessageEvent wraps a payload with the message type.
func NewMessageEvent(m MessagePayload) MessageEvent {
	return MessageEvent{Type: TypeMessage, Message: m}
}

func (MessageEvent) EventType() string { return TypeMessage }

// TypingEvent relays a typing indicator to the rest of the room.
type TypingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// NewTypingEvent builds a typing indicator for userID.
func NewTypingEvent(userID string, isTyping bool) TypingEvent {
	return TypingEvent{Type: TypeTyping, UserID: userID, IsTyping: isTyping}
}

func (TypingEvent) EventType() string { return TypeTyping }

// ReadReceiptEvent announces that UserID has read MessageID.
type ReadReceiptEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

// NewReadReceiptEvent builds a read receipt.
func NewReadReceiptEvent(messageID, userID string) ReadReceiptEvent {
	return ReadReceiptEvent{Type: TypeReadReceipt, MessageID: messageID, UserID: userID}
}

func (ReadReceiptEvent) EventType() string { return TypeReadReceipt }

// ErrorEvent is sent only to the originating connection.
type ErrorEvent struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// NewErrorEvent builds an error frame.
func NewErrorEvent(code, msg string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Code: code, Message: msg}
}

func (ErrorEvent) EventType() string { return TypeError }

// Severity levels for NotificationEvent.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// NotificationEvent is delivered on a user's personal channel.
type NotificationEvent struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	Severity       string `json:"severity"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// NewNotificationEvent builds a personal notification.
func NewNotificationEvent(msg, severity string) NotificationEvent {
	if severity == "" {
		severity = SeverityInfo
	}
	return NotificationEvent{Type: TypeNotification, Message: msg, Severity: severity}
}

func (NotificationEvent) EventType() string { return TypeNotification }
