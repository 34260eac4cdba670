package realtime

import (
	"log/slog"

	"haven/cmd/internal/conversation"
	"haven/cmd/internal/notify"
	v1 "haven/contracts/realtime/v1"
)

// Relay performs the fan-out that follows a committed write. The websocket
// and HTTP send paths share it so both notify the same way.
type Relay struct {
	log      *slog.Logger
	hub      *Hub
	notifier notify.Notifier
}

// NewRelay constructs a Relay. notifier may be nil, in which case only
// connected users are reached.
func NewRelay(log *slog.Logger, hub *Hub, notifier notify.Notifier) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{log: log, hub: hub, notifier: notifier}
}

// MessageCreated broadcasts msg to the conversation room, sender included,
// then alerts every recipient who is not watching the room and has not
// muted the conversation: a personal notification event on their open
// connections and an out-of-band Notify.
func (r *Relay) MessageCreated(conv conversation.Conversation, msg conversation.Message) {
	r.hub.BroadcastToRoom(conv.ID, v1.NewMessageEvent(Payload(msg)), nil)

	preview := notify.Preview(msg.Body, previewRunes)
	if preview == "" && msg.Attachment != "" {
		preview = "Sent an attachment"
	}

	alerted := 0
	for _, u := range conv.Recipients(msg.SenderID) {
		if r.hub.InRoom(conv.ID, u) || conv.IsMutedFor(u) {
			continue
		}
		alerted++

		ev := v1.NewNotificationEvent("New message: "+preview, v1.SeverityInfo)
		ev.ConversationID = conv.ID
		ev.MessageID = msg.ID
		r.hub.SendToUser(u, ev)

		if r.notifier != nil {
			r.notifier.Notify(u, notify.Event{
				Kind:           notify.KindMessage,
				Title:          "New message",
				Body:           preview,
				ConversationID: conv.ID,
				MessageID:      msg.ID,
				SenderID:       msg.SenderID,
				Severity:       v1.SeverityInfo,
			}, notify.AlertChannels(notify.KindMessage)...)
		}
	}

	r.log.Debug("relay.message",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"alerted", alerted,
	)
}

// ConversationStarted alerts every participant other than starterID that a
// conversation now exists. Muted participants are skipped.
func (r *Relay) ConversationStarted(conv conversation.Conversation, starterID string) {
	for _, u := range conv.Recipients(starterID) {
		if conv.IsMutedFor(u) {
			continue
		}

		ev := v1.NewNotificationEvent("New conversation started", v1.SeverityInfo)
		ev.ConversationID = conv.ID
		r.hub.SendToUser(u, ev)

		if r.notifier != nil {
			r.notifier.Notify(u, notify.Event{
				Kind:           notify.KindConversation,
				Title:          "New conversation",
				Body:           "Someone started a conversation with you.",
				ConversationID: conv.ID,
				SenderID:       starterID,
				Severity:       v1.SeverityInfo,
			}, notify.AlertChannels(notify.KindConversation)...)
		}
	}
}

// Payload converts a display message to its wire form.
func Payload(m conversation.Message) v1.MessagePayload {
	return v1.MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Content:        m.Body,
		Attachment:     m.Attachment,
		CreatedAt:      m.CreatedAt,
	}
}
