package msgcrypt

import (
	"encoding/base64"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyEnvKey is the env var name holding the message key.
// #nosec G101 -- not a credential; it's an environment variable name.
const KeyEnvKey = "HAVEN_MESSAGE_KEY"

// KeyFromEnv reads and decodes the message key from the environment.
func KeyFromEnv() ([]byte, error) {
	return ParseKey(os.Getenv(KeyEnvKey))
}

// ParseKey decodes a base64 key (std or url alphabet, padded or not) and
// checks its length.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrKeyMissing
	}

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(raw)
		if err != nil {
			continue
		}
		if len(b) != chacha20poly1305.KeySize {
			return nil, ErrKeyInvalid
		}
		return b, nil
	}
	return nil, ErrKeyInvalid
}

// EncodeKey renders a key in the form ParseKey accepts.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
