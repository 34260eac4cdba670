package app

import (
	"errors"
	"fmt"

	"haven/cmd/internal/auth"
	"haven/cmd/security/msgcrypt"
)

// ValidateSecurityConfig enforces Haven's security policy at startup.
// Message bodies are never stored in plaintext, so a missing or malformed
// key refuses startup instead of falling back.
func ValidateSecurityConfig(cfg Config) error {
	if _, err := msgcrypt.KeyFromEnv(); err != nil {
		switch {
		case errors.Is(err, msgcrypt.ErrKeyMissing):
			return errors.New("security policy: HAVEN_MESSAGE_KEY is missing")
		case errors.Is(err, msgcrypt.ErrKeyInvalid):
			return errors.New("security policy: HAVEN_MESSAGE_KEY must be base64 of exactly 32 bytes")
		default:
			return err
		}
	}

	if cfg.Auth.PublicKeyHex != "" {
		if _, err := auth.NewPasetoVerifier(cfg.Auth.PublicKeyHex, cfg.Auth.Issuer, cfg.Auth.ClockSkew); err != nil {
			return fmt.Errorf("security policy: HAVEN_AUTH_PUBLIC_KEY_HEX: %w", err)
		}
	}
	return nil
}
