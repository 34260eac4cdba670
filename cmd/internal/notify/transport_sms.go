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

// SMSConfig configures SMSTransport.
type SMSConfig struct {
	URL           string
	APIKey        string
	From          string
	RatePerSecond float64
	Burst         int
	Client        *http.Client
}

// SMSTransport posts text messages to an HTTP SMS gateway as
// {"from","to","text"} with a bearer API key.
type SMSTransport struct {
	url     string
	apiKey  string
	from    string
	client  *http.Client
	limiter *rate.Limiter
}

var _ Transport = (*SMSTransport)(nil)

// NewSMSTransport constructs an SMSTransport. URL is required.
func NewSMSTransport(cfg SMSConfig) (*SMSTransport, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("notify: sms gateway url required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSTransport{
		url:     url,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		from:    strings.TrimSpace(cfg.From),
		client:  client,
		limiter: newPacer(cfg.RatePerSecond, cfg.Burst),
	}, nil
}

func (t *SMSTransport) Channel() Channel { return ChannelSMS }

type smsRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// Deliver sends "Title: Body" to the profile's phone number.
func (t *SMSTransport) Deliver(ctx context.Context, to directory.Profile, ev Event) error {
	phone, ok := to.PhoneNumber()
	if !ok {
		return ErrNoAddress
	}

	text := ev.Body
	if ev.Title != "" {
		text = ev.Title + ": " + ev.Body
	}
	body, err := json.Marshal(smsRequest{From: t.from, To: phone, Text: Preview(text, 320)})
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
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms: http %d", resp.StatusCode)
	}
	return nil
}
