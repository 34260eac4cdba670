package msgcrypt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func mustCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	c := mustCodec(t)
	for _, s := range []string{
		"",
		"hello",
		"Bonjour, la maison est-elle disponible ?",
		"مرحبا 👋 日本語",
		strings.Repeat("x", 4000),
	} {
		tok, err := c.Encrypt(s)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", s, err)
		}
		if s != "" && tok == s {
			t.Fatalf("expected ciphertext to differ from plaintext")
		}
		if got := c.Decrypt(tok); got != s {
			t.Fatalf("round trip mismatch: got=%q want=%q", got, s)
		}
	}
}

func TestCodec_EmptyPlaintextSkipsCipher(t *testing.T) {
	t.Parallel()

	c := mustCodec(t)
	c.rand = failingReader{}

	tok, err := c.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt(\"\"): %v", err)
	}
	if tok != "" {
		t.Fatalf("expected empty token, got %q", tok)
	}

	if _, err := c.Encrypt("x"); !errors.Is(err, ErrEncrypt) {
		t.Fatalf("expected ErrEncrypt when nonce generation fails, got %v", err)
	}
}

func TestCodec_TamperedTokenDegradesToPlaceholder(t *testing.T) {
	t.Parallel()

	c := mustCodec(t)
	tok, err := c.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	flipped := []byte(tok)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}

	for _, bad := range []string{string(flipped), "v1.!!!", "v2." + tok[3:], "v1.AAAA", "legacy plaintext"} {
		if got := c.Decrypt(bad); got != DecryptFailedPlaceholder {
			t.Fatalf("Decrypt(%q)=%q want placeholder", bad, got)
		}
		if _, err := c.Open(bad); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("Open(%q): expected ErrDecrypt, got %v", bad, err)
		}
	}

	other, err := New(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := other.Decrypt(tok); got != DecryptFailedPlaceholder {
		t.Fatalf("expected placeholder under a different key, got %q", got)
	}
}

func TestNew_FailsClosed(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	if _, err := New([]byte("short")); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid, got %v", err)
	}
}

func TestKeyFromEnv(t *testing.T) {
	t.Setenv(KeyEnvKey, "")
	if _, err := KeyFromEnv(); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}

	t.Setenv(KeyEnvKey, "bm90LTMyLWJ5dGVz")
	if _, err := KeyFromEnv(); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid, got %v", err)
	}

	key := bytes.Repeat([]byte{1}, 32)
	t.Setenv(KeyEnvKey, EncodeKey(key))
	got, err := KeyFromEnv()
	if err != nil {
		t.Fatalf("KeyFromEnv: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("decoded key mismatch")
	}
	if _, err := NewFromEnv(); err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }
