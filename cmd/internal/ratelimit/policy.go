// Package ratelimit implements sliding-window admission control keyed by
// (user, conversation).
//
// Window state lives behind Store so a single-process deployment can keep it
// in memory while a horizontally scaled one shares it through Redis.
package ratelimit

import "time"

// TTLSlack is added to the window when expiring keys so abandoned windows
// clean themselves up shortly after they stop mattering.
const TTLSlack = 5 * time.Second

// Policy caps Max events per trailing Window.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Default policies.
var (
	// LivePolicy applies to messages sent over a live chat connection.
	LivePolicy = Policy{Name: "ws_send", Max: 10, Window: 10 * time.Second}

	// HTTPSendPolicy applies to the request/response send-message path.
	HTTPSendPolicy = Policy{Name: "http_send", Max: 60, Window: time.Minute}

	// CreateConversationPolicy applies to starting new conversations.
	CreateConversationPolicy = Policy{Name: "conversation_create", Max: 20, Window: time.Hour}

	// FramePolicy guards a single connection against frame floods
	// (typing indicators and receipts are not covered by LivePolicy).
	FramePolicy = Policy{Name: "ws_frames", Max: 120, Window: 10 * time.Second}
)

// WithDefaults fills zero fields from def.
func (p Policy) WithDefaults(def Policy) Policy {
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	return p
}

func (p Policy) ttl() time.Duration {
	return p.Window + TTLSlack
}
