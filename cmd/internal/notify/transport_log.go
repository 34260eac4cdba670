package notify

import (
	"context"
	"log/slog"

	"haven/cmd/internal/directory"
)

// LogTransport records deliveries in the log instead of sending them.
// It stands in for unconfigured channels during development.
type LogTransport struct {
	log     *slog.Logger
	channel Channel
}

var _ Transport = (*LogTransport)(nil)

// NewLogTransport constructs a LogTransport for ch.
func NewLogTransport(log *slog.Logger, ch Channel) *LogTransport {
	if log == nil {
		log = slog.Default()
	}
	return &LogTransport{log: log, channel: ch}
}

func (t *LogTransport) Channel() Channel { return t.channel }

func (t *LogTransport) Deliver(_ context.Context, to directory.Profile, ev Event) error {
	t.log.Info("notify.log.deliver",
		"channel", t.channel,
		"user_id", to.UserID,
		"kind", ev.Kind,
		"title", ev.Title,
		"conversation_id", ev.ConversationID,
		"message_id", ev.MessageID,
	)
	return nil
}
