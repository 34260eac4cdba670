// Package main provides a CI-friendly end-to-end smoke test for Haven chat.
//
// It validates:
//   - conversation start over HTTP
//   - handshake + subprotocol selection for two participants
//   - typing relay (excluding the sender)
//   - message broadcast including self-echo
//   - read receipt broadcast
//   - history fetch over HTTP
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "haven/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type identity struct {
	userID string
	token  string
}

func (id identity) apply(h http.Header) {
	if id.token != "" {
		h.Set("Authorization", "Bearer "+id.token)
		return
	}
	h.Set("X-User-ID", id.userID)
}

// inbound holds any server event. "message" is an object on message events
// and a string on error and notification events, so it stays raw.
type inbound struct {
	Type      string          `json:"type"`
	Raw       json.RawMessage `json:"message"`
	UserID    string          `json:"user_id"`
	MessageID string          `json:"message_id"`
	Text      string          `json:"-"`
}

func (ev inbound) payload() v1.MessagePayload {
	var p v1.MessagePayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		fatalf("decode message payload: %v (%s)", err, ev.Text)
	}
	return p
}

type smokeClient struct {
	name  string
	conn  *websocket.Conn
	inbox chan inbound
	errCh chan error
}

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "Haven base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("user-a", "smoke-alice", "First participant (dev header mode)")
		userB   = flag.String("user-b", "smoke-bob", "Second participant (dev header mode)")
		tokenA  = flag.String("token-a", "", "Bearer token for the first participant (overrides dev header)")
		tokenB  = flag.String("token-b", "", "Bearer token for the second participant (overrides dev header)")
		text    = flag.String("text", "hello haven 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	baseURL, err := validateBaseURL(*base)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	a := identity{userID: *userA, token: *tokenA}
	b := identity{userID: *userB, token: *tokenB}
	root := context.Background()

	convID := mustStartConversation(root, baseURL, a, *userB, *timeout)
	if *verbose {
		fmt.Printf("conversation: %s\n", convID)
	}

	ca := mustConnect(root, "A", wsURL(baseURL, convID), *origin, a, *timeout)
	defer closeWS(ca.conn)
	cb := mustConnect(root, "B", wsURL(baseURL, convID), *origin, b, *timeout)
	defer closeWS(cb.conn)

	// Give the server a moment to join both connections to the room.
	time.Sleep(200 * time.Millisecond)

	mustWrite(root, cb.conn, map[string]any{"type": v1.TypeTyping, "is_typing": true}, *timeout)
	if typing := ca.mustReadUntilType(root, v1.TypeTyping, *timeout); typing.UserID == "" {
		fatalf("typing: missing user_id")
	}

	mustWrite(root, ca.conn, map[string]any{"type": v1.TypeMessage, "content": *text}, *timeout)
	got := cb.mustReadUntilType(root, v1.TypeMessage, *timeout).payload()
	if got.Content != *text {
		fatalf("broadcast content mismatch: got=%q want=%q", got.Content, *text)
	}
	echo := ca.mustReadUntilType(root, v1.TypeMessage, *timeout).payload()
	if echo.ID != got.ID {
		fatalf("self-echo id mismatch: got=%q want=%q", echo.ID, got.ID)
	}

	mustWrite(root, cb.conn, map[string]any{"type": v1.TypeRead, "message_id": got.ID}, *timeout)
	receipt := ca.mustReadUntilType(root, v1.TypeReadReceipt, *timeout)
	if receipt.MessageID != got.ID {
		fatalf("read receipt message_id=%q want %q", receipt.MessageID, got.ID)
	}

	mustHistoryContains(root, baseURL, b, convID, got.ID, *text, *timeout)

	fmt.Printf("OK: conv_id=%s message_id=%s seq=%d\n", convID, got.ID, got.Seq)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURL(base *url.URL, convID string) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + url.PathEscape(convID)
	return u.String()
}

func apiURL(base *url.URL, path string) string {
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func doJSON(parent context.Context, method, target string, id identity, body any, stepTimeout time.Duration, dst any) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		fatalf("build request: %v", err)
	}
	id.apply(req.Header)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read response: %v", err)
	}
	if resp.StatusCode >= 300 {
		fatalf("%s %s: status=%d body=%s", method, target, resp.StatusCode, raw)
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			fatalf("unmarshal response: %v", err)
		}
	}
	return resp.StatusCode
}

func mustStartConversation(parent context.Context, base *url.URL, starter identity, other string, stepTimeout time.Duration) string {
	var resp struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
	}
	doJSON(parent, http.MethodPost, apiURL(base, "/conversations"), starter,
		map[string]any{"participant_ids": []string{other}}, stepTimeout, &resp)
	if resp.Conversation.ID == "" {
		fatalf("start conversation: empty id")
	}
	return resp.Conversation.ID
}

func mustHistoryContains(parent context.Context, base *url.URL, id identity, convID, msgID, text string, stepTimeout time.Duration) {
	var page struct {
		Messages []struct {
			ID   string `json:"id"`
			Body string `json:"body"`
		} `json:"messages"`
	}
	doJSON(parent, http.MethodGet, apiURL(base, "/conversations/"+url.PathEscape(convID)+"/messages"), id, nil, stepTimeout, &page)
	for _, m := range page.Messages {
		if m.ID == msgID {
			if m.Body != text {
				fatalf("history body mismatch: got=%q want=%q", m.Body, text)
			}
			return
		}
	}
	fatalf("history missing message %s", msgID)
}

func mustConnect(parent context.Context, name, target, origin string, id identity, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	id.apply(h)

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan inbound, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.errCh <- err
				return
			}
			var ev inbound
			if err := json.Unmarshal(data, &ev); err != nil {
				c.errCh <- fmt.Errorf("decode frame: %w", err)
				return
			}
			ev.Text = string(data)
			c.inbox <- ev
		}
	}()
}

// mustReadUntilType skips unrelated events (typing, notifications) and fails
// on server errors.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) inbound {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case ev, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if ev.Type == wantType {
				return ev
			}
			if ev.Type == v1.TypeError {
				fatalf("server error (%s): %s", c.name, ev.Text)
			}
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, frame any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
