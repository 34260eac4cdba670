package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"haven/cmd/internal/directory"

	"golang.org/x/time/rate"
)

// DefaultPushURL is the Expo push endpoint.
const DefaultPushURL = "https://exp.host/--/api/v2/push/send"

// PushConfig configures PushTransport.
type PushConfig struct {
	URL         string
	AccessToken string
	// RatePerSecond paces outbound requests (0 disables pacing).
	RatePerSecond float64
	Burst         int
	Client        *http.Client
}

// PushTransport sends device push notifications through an Expo-style
// HTTP JSON API: one request carries one message per device token.
type PushTransport struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

var _ Transport = (*PushTransport)(nil)

// NewPushTransport constructs a PushTransport.
func NewPushTransport(cfg PushConfig) *PushTransport {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultPushURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PushTransport{
		url:     url,
		token:   strings.TrimSpace(cfg.AccessToken),
		client:  client,
		limiter: newPacer(cfg.RatePerSecond, cfg.Burst),
	}
}

func (t *PushTransport) Channel() Channel { return ChannelPush }

type pushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

type pushTicket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type pushResponse struct {
	Data   []pushTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// Deliver sends ev to every push token on the profile. It fails only when
// no device accepted the message.
func (t *PushTransport) Deliver(ctx context.Context, to directory.Profile, ev Event) error {
	if len(to.PushTokens) == 0 {
		return ErrNoAddress
	}

	msgs := make([]pushMessage, 0, len(to.PushTokens))
	data := ev.Data()
	for _, tok := range to.PushTokens {
		msgs = append(msgs, pushMessage{To: tok, Title: ev.Title, Body: ev.Body, Data: data, Sound: "default"})
	}
	body, err := json.Marshal(msgs)
	if err != nil {
		return err
	}

	if err := wait(ctx, t.limiter); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out pushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("push: decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("push: %s: %s", out.Errors[0].Code, out.Errors[0].Message)
	}

	ok := 0
	var firstErr string
	for _, tk := range out.Data {
		if tk.Status == "ok" {
			ok++
		} else if firstErr == "" {
			firstErr = tk.Message
		}
	}
	if ok == 0 && len(out.Data) > 0 {
		return errors.New("push: all tickets rejected: " + firstErr)
	}
	return nil
}

func newPacer(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
