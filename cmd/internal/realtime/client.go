package realtime

import "sync"

// Client represents one connected websocket session.
//
// Send carries pre-encoded frames so a broadcast marshals once. It is never
// closed by the server; done signals shutdown. Close is idempotent.
type Client struct {
	SessionID string
	UserID    string
	Send      chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues b without blocking. It reports false when the client is
// shutting down or its queue is full.
func (c *Client) offer(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- b:
		return true
	default:
		return false
	}
}
