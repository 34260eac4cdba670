package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"haven/cmd/internal/directory"

	"golang.org/x/time/rate"
)

// SMTPConfig configures SMTPTransport.
type SMTPConfig struct {
	Addr          string // host:port
	Username      string
	Password      string
	From          string
	RatePerSecond float64
	Burst         int
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport sends plain-text email through an SMTP relay.
type SMTPTransport struct {
	addr     string
	from     string
	auth     smtp.Auth
	limiter  *rate.Limiter
	sendMail sendMailFunc
	now      func() time.Time
}

var _ Transport = (*SMTPTransport)(nil)

// NewSMTPTransport constructs an SMTPTransport. Addr and From are required;
// credentials enable PLAIN auth.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	addr := strings.TrimSpace(cfg.Addr)
	from := strings.TrimSpace(cfg.From)
	if addr == "" || from == "" {
		return nil, errors.New("notify: smtp addr and from are required")
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp addr: %w", err)
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return &SMTPTransport{
		addr:     addr,
		from:     from,
		auth:     auth,
		limiter:  newPacer(cfg.RatePerSecond, cfg.Burst),
		sendMail: smtp.SendMail,
		now:      time.Now,
	}, nil
}

func (t *SMTPTransport) Channel() Channel { return ChannelEmail }

// Deliver emails ev to the profile's address.
func (t *SMTPTransport) Deliver(ctx context.Context, to directory.Profile, ev Event) error {
	addr, ok := to.EmailAddress()
	if !ok {
		return ErrNoAddress
	}
	if strings.ContainsAny(addr, "\r\n") {
		return fmt.Errorf("notify: invalid email address")
	}
	if err := wait(ctx, t.limiter); err != nil {
		return err
	}

	msg := t.compose(addr, to.Name(), ev)

	// net/smtp has no context support; run it aside and stop waiting on
	// cancellation.
	done := make(chan error, 1)
	go func() { done <- t.sendMail(t.addr, t.auth, t.from, []string{addr}, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SMTPTransport) compose(addr, name string, ev Event) []byte {
	subject := ev.Title
	if subject == "" {
		subject = "New activity"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", t.from)
	fmt.Fprintf(&b, "To: %s\r\n", addr)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", t.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", name)
	b.WriteString(strings.ReplaceAll(ev.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
