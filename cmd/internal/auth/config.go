package auth

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls how requests are authenticated.
type Config struct {
	// Issuer is the required "iss" claim. Empty accepts any issuer.
	Issuer string

	// PublicKeyHex is the hex-encoded Ed25519 key that verifies access tokens.
	PublicKeyHex string

	// ClockSkew is the tolerated clock difference during validation.
	ClockSkew time.Duration

	// DevHeader enables HeaderAuthenticator. Never set in production.
	DevHeader bool
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:    "haven",
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// Optional:
//   - HAVEN_AUTH_PUBLIC_KEY_HEX
//   - HAVEN_AUTH_ISSUER
//   - HAVEN_AUTH_CLOCK_SKEW
//   - HAVEN_AUTH_DEV_HEADER
//
// At least one of the public key or the dev header must be configured.
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("HAVEN_AUTH_ISSUER"); ok {
		cfg.Issuer = strings.TrimSpace(v)
	}
	if v := os.Getenv("HAVEN_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}
	if v := os.Getenv("HAVEN_AUTH_DEV_HEADER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.DevHeader = b
	}
	cfg.PublicKeyHex = strings.TrimSpace(os.Getenv("HAVEN_AUTH_PUBLIC_KEY_HEX"))

	if cfg.PublicKeyHex == "" && !cfg.DevHeader {
		return Config{}, ErrConfig
	}
	return cfg, nil
}

// New builds the Authenticator described by cfg: bearer tokens first, then
// the dev header when enabled.
func New(cfg Config) (Authenticator, error) {
	var chain Chain
	if cfg.PublicKeyHex != "" {
		v, err := NewPasetoVerifier(cfg.PublicKeyHex, cfg.Issuer, cfg.ClockSkew)
		if err != nil {
			return nil, err
		}
		chain = append(chain, NewBearerAuthenticator(v))
	}
	if cfg.DevHeader {
		chain = append(chain, HeaderAuthenticator{})
	}
	if len(chain) == 0 {
		return nil, ErrConfig
	}
	return chain, nil
}
