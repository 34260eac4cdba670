package auth

import (
	"net/http"
	"strings"
	"time"
)

// QueryTokenParam carries the access token for browser websockets, which
// cannot set an Authorization header.
const QueryTokenParam = "access_token"

// BearerAuthenticator authenticates "Authorization: Bearer <token>" and,
// optionally, ?access_token=<token>.
type BearerAuthenticator struct {
	verifier   TokenVerifier
	now        func() time.Time
	allowQuery bool
}

var _ Authenticator = (*BearerAuthenticator)(nil)

// BearerOption configures a BearerAuthenticator.
type BearerOption func(*BearerAuthenticator)

// WithQueryToken toggles the ?access_token= fallback (default on).
func WithQueryToken(enabled bool) BearerOption {
	return func(a *BearerAuthenticator) { a.allowQuery = enabled }
}

// WithClock overrides the verification clock.
func WithClock(now func() time.Time) BearerOption {
	return func(a *BearerAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewBearerAuthenticator returns an Authenticator backed by v.
func NewBearerAuthenticator(v TokenVerifier, opts ...BearerOption) *BearerAuthenticator {
	a := &BearerAuthenticator{
		verifier:   v,
		now:        func() time.Time { return time.Now().UTC() },
		allowQuery: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *BearerAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" && a.allowQuery {
		token = strings.TrimSpace(r.URL.Query().Get(QueryTokenParam))
	}
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	if a.verifier == nil {
		return Identity{}, ErrInvalidToken
	}

	claims, err := a.verifier.Verify(token, a.now())
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.UserID, SessionID: claims.SessionID}, nil
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Header names read by HeaderAuthenticator.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

// HeaderAuthenticator trusts X-User-ID verbatim. Development only: anyone
// who can reach the server can claim any identity.
type HeaderAuthenticator struct{}

var _ Authenticator = HeaderAuthenticator{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if uid == "" {
		return Identity{}, ErrUnauthenticated
	}
	sid := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	if sid == "" {
		sid = "dev:" + uid
	}
	return Identity{UserID: uid, SessionID: sid}, nil
}
