package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func newTestSigner(t *testing.T, issuer string, ttl time.Duration) *PasetoSigner {
	t.Helper()

	secret := paseto.NewV4AsymmetricSecretKey()
	s, err := NewPasetoSigner(secret.ExportHex(), issuer, ttl)
	if err != nil {
		t.Fatalf("NewPasetoSigner: %v", err)
	}
	return s
}

func flipChar(s string, i int) string {
	b := []byte(s)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestPasetoVerifier_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, "haven", 15*time.Minute)
	tok, exp, err := s.Issue("u1", "s1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("exp=%v", exp)
	}

	v, err := NewPasetoVerifier(s.PublicKeyHex(), "haven", 30*time.Second)
	if err != nil {
		t.Fatalf("NewPasetoVerifier: %v", err)
	}
	c, err := v.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.UserID != "u1" || c.SessionID != "s1" || c.Issuer != "haven" {
		t.Fatalf("unexpected claims: %+v", c)
	}
}

func TestPasetoVerifier_Rejects(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, "haven", time.Minute)
	tok, _, err := s.Issue("u1", "s1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	v, err := NewPasetoVerifier(s.PublicKeyHex(), "haven", 0)
	if err != nil {
		t.Fatalf("NewPasetoVerifier: %v", err)
	}
	if _, err := v.Verify(tok, now.Add(2*time.Minute)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Verify(flipChar(tok, len(tok)-10), now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered: expected ErrInvalidToken, got %v", err)
	}

	other, err := NewPasetoVerifier(s.PublicKeyHex(), "someone-else", 0)
	if err != nil {
		t.Fatalf("NewPasetoVerifier: %v", err)
	}
	if _, err := other.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("issuer: expected ErrInvalidToken, got %v", err)
	}

	foreign := newTestSigner(t, "haven", time.Minute)
	ftok, _, _ := foreign.Issue("u1", "s1", now)
	if _, err := v.Verify(ftok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign key: expected ErrInvalidToken, got %v", err)
	}
}

func TestPasetoVerifier_ClockSkew(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, "haven", time.Hour)
	// Minted by a clock 10s ahead of the verifier.
	tok, _, _ := s.Issue("u1", "s1", now.Add(10*time.Second))

	strict, _ := NewPasetoVerifier(s.PublicKeyHex(), "haven", 0)
	if _, err := strict.Verify(tok, now); err == nil {
		t.Fatalf("expected nbf rejection without skew")
	}
	lenient, _ := NewPasetoVerifier(s.PublicKeyHex(), "haven", 30*time.Second)
	if _, err := lenient.Verify(tok, now); err != nil {
		t.Fatalf("expected skew tolerance, got %v", err)
	}
}

func TestNewPasetoVerifier_BadKey(t *testing.T) {
	t.Parallel()

	if _, err := NewPasetoVerifier("zz", "haven", 0); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestBearerAuthenticator(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, "haven", time.Hour)
	tok, _, _ := s.Issue("u1", "s1", now)
	v, _ := NewPasetoVerifier(s.PublicKeyHex(), "haven", 0)
	a := NewBearerAuthenticator(v, WithClock(func() time.Time { return now }))

	r := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	r.Header.Set("Authorization", "bearer "+tok)
	id, err := a.Authenticate(r)
	if err != nil || id.UserID != "u1" || id.SessionID != "s1" {
		t.Fatalf("header auth: id=%+v err=%v", id, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws/chat/c1?access_token="+tok, nil)
	if id, err := a.Authenticate(r); err != nil || id.UserID != "u1" {
		t.Fatalf("query auth: id=%+v err=%v", id, err)
	}

	noQuery := NewBearerAuthenticator(v, WithClock(func() time.Time { return now }), WithQueryToken(false))
	if _, err := noQuery.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("query disabled: expected ErrUnauthenticated, got %v", err)
	}

	r = httptest.NewRequest(http.MethodGet, "/conversations", nil)
	if _, err := a.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing: expected ErrUnauthenticated, got %v", err)
	}

	r.Header.Set("Authorization", "Bearer nope")
	if _, err := a.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: expected ErrInvalidToken, got %v", err)
	}
}

func TestChain_FallsThroughOnlyWithoutCredentials(t *testing.T) {
	t.Parallel()

	s := newTestSigner(t, "haven", time.Hour)
	v, _ := NewPasetoVerifier(s.PublicKeyHex(), "haven", 0)
	c := Chain{NewBearerAuthenticator(v), HeaderAuthenticator{}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserID, "dev-user")
	id, err := c.Authenticate(r)
	if err != nil || id.UserID != "dev-user" || id.SessionID != "dev:dev-user" {
		t.Fatalf("dev header: id=%+v err=%v", id, err)
	}

	// A rejected token must not fall back to the header.
	r.Header.Set("Authorization", "Bearer forged")
	if _, err := c.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	if _, err := (Chain{}).Authenticate(httptest.NewRequest(http.MethodGet, "/", nil)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty chain: expected ErrUnauthenticated, got %v", err)
	}
}

func TestIdentityContext(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := FromContext(r.Context()); ok {
		t.Fatalf("expected no identity")
	}
	ctx := WithIdentity(r.Context(), Identity{UserID: "u1", SessionID: "s1"})
	id, ok := FromContext(ctx)
	if !ok || id.UserID != "u1" {
		t.Fatalf("FromContext=%+v ok=%v", id, ok)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HAVEN_AUTH_PUBLIC_KEY_HEX", "")
	t.Setenv("HAVEN_AUTH_DEV_HEADER", "")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without any authenticator, got %v", err)
	}

	t.Setenv("HAVEN_AUTH_DEV_HEADER", "maybe")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad bool, got %v", err)
	}

	t.Setenv("HAVEN_AUTH_DEV_HEADER", "true")
	t.Setenv("HAVEN_AUTH_CLOCK_SKEW", "-1s")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for negative skew, got %v", err)
	}

	t.Setenv("HAVEN_AUTH_CLOCK_SKEW", "5s")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !cfg.DevHeader || cfg.ClockSkew != 5*time.Second || cfg.Issuer != "haven" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := a.(Chain); !ok {
		t.Fatalf("expected Chain, got %T", a)
	}
}
