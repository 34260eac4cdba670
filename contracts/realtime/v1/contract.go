// Package v1 defines the Haven realtime chat protocol v1 contract.
//
// Frames are flat JSON objects discriminated by "type". The package is
// dependency-light so clients can share it with the server.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subprotocol is negotiated on the websocket handshake.
const Subprotocol = "haven.chat.v1"

// Type constants (wire-stable).
const (
	// TypeMessage is a send request (client -> server) and a broadcast (server -> room).
	TypeMessage = "message"
	// TypeTyping is a typing indicator in both directions.
	TypeTyping = "typing"
	// TypeRead marks a single message as read (client -> server).
	TypeRead = "read"
	// TypeReadReceipt announces a read message (server -> room).
	TypeReadReceipt = "read_receipt"
	// TypeNotification is an out-of-band event on the personal channel (server -> user).
	TypeNotification = "notification"
	// TypeError is only ever sent to the connection that caused it.
	TypeError = "error"
)

// Error codes carried by ErrorEvent.
const (
	CodeBadFrame    = "bad_frame"
	CodeInvalid     = "invalid_message"
	CodeForbidden   = "forbidden"
	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeInternal    = "internal"
)

// ErrUnknownType is returned by Decode for types this version does not know.
// Servers ignore such frames to stay forward-compatible.
var ErrUnknownType = errors.New("unknown frame type")

// Frame is the inbound client frame. Only the fields relevant to Type are set.
type Frame struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Attachment string `json:"attachment,omitempty"`
	IsTyping   *bool  `json:"is_typing,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
}

// Decode parses and structurally validates an inbound frame.
// An unknown type yields ErrUnknownType together with the decoded frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid JSON: %w", err)
	}
	f.Type = strings.TrimSpace(f.Type)
	return f, f.Validate()
}

// Validate performs per-type structural validation.
// Content rules (empty bodies, length) belong to the store, not the wire.
func (f Frame) Validate() error {
	switch f.Type {
	case "":
		return errors.New("missing field: type")
	case TypeMessage:
		return nil
	case TypeTyping:
		if f.IsTyping == nil {
			return errors.New("missing field: is_typing")
		}
		return nil
	case TypeRead:
		if strings.TrimSpace(f.MessageID) == "" {
			return errors.New("missing field: message_id")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}
