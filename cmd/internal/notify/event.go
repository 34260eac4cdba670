// Package notify delivers out-of-band alerts (push, email, SMS) to users.
//
// Delivery is fire-and-forget: Dispatcher.Notify only enqueues, a worker
// pool performs the directory lookup and tries each channel independently.
// Nothing here is transactional with message persistence.
package notify

import (
	"context"
	"errors"
	"slices"
	"unicode/utf8"

	"haven/cmd/internal/directory"
)

// Channel is one delivery medium.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Kind classifies an Event.
type Kind string

const (
	KindMessage      Kind = "new_message"
	KindConversation Kind = "new_conversation"
)

// Default channel orders.
var (
	DefaultMessageChannels      = []Channel{ChannelPush, ChannelEmail}
	DefaultConversationChannels = []Channel{ChannelEmail, ChannelPush}
)

// ChannelsFor returns the default channels for kind.
func ChannelsFor(kind Kind) []Channel {
	if kind == KindConversation {
		return DefaultConversationChannels
	}
	return DefaultMessageChannels
}

// AlertChannels is what the relay requests for kind: the defaults followed
// by SMS. Eligible drops SMS for users without a phone number or opt-in.
func AlertChannels(kind Kind) []Channel {
	return append(slices.Clone(ChannelsFor(kind)), ChannelSMS)
}

// Event is the summary delivered to a user.
type Event struct {
	Kind           Kind   `json:"kind"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	Severity       string `json:"severity,omitempty"`
}

// Data returns the key/value payload attached to push messages.
func (e Event) Data() map[string]string {
	d := map[string]string{"type": string(e.Kind)}
	if e.ConversationID != "" {
		d["conversation_id"] = e.ConversationID
	}
	if e.MessageID != "" {
		d["message_id"] = e.MessageID
	}
	if e.SenderID != "" {
		d["sender_id"] = e.SenderID
	}
	return d
}

// Preview truncates s to at most n runes, appending an ellipsis when cut.
func Preview(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// ErrNoAddress is returned by a transport when the profile has nowhere to
// deliver on its channel.
var ErrNoAddress = errors.New("no address for channel")

// Transport delivers an Event over one Channel.
type Transport interface {
	Channel() Channel
	Deliver(ctx context.Context, to directory.Profile, ev Event) error
}

// Notifier is the fire-and-forget entry point used by the realtime layer.
type Notifier interface {
	Notify(userID string, ev Event, channels ...Channel)
}

// Eligible reports whether p opted in to ch and has an address for it.
func Eligible(p directory.Profile, ch Channel) bool {
	switch ch {
	case ChannelPush:
		return p.Prefs.Push && len(p.PushTokens) > 0
	case ChannelEmail:
		_, ok := p.EmailAddress()
		return p.Prefs.Email && ok
	case ChannelSMS:
		_, ok := p.PhoneNumber()
		return p.Prefs.SMS && ok
	default:
		return false
	}
}
