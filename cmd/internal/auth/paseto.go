package auth

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the verified content of an access token.
type Claims struct {
	UserID    string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// TokenVerifier verifies access tokens.
type TokenVerifier interface {
	Verify(token string, now time.Time) (Claims, error)
}

// PasetoVerifier verifies PASETO v4.public access tokens signed by the
// account service. Only the public key is held here.
type PasetoVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
}

var _ TokenVerifier = (*PasetoVerifier)(nil)

// NewPasetoVerifier builds a verifier from a hex-encoded Ed25519 public key.
func NewPasetoVerifier(publicKeyHex, issuer string, clockSkew time.Duration) (*PasetoVerifier, error) {
	public, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	if clockSkew < 0 {
		return nil, ErrConfig
	}
	return &PasetoVerifier{issuer: issuer, clockSkew: clockSkew, public: public}, nil
}

// Verify checks signature, issuer and expiry. Validity is evaluated at
// now+clockSkew so a token minted on a slightly fast clock is not rejected
// on "nbf".
func (v *PasetoVerifier) Verify(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	// Fresh parser per call; rules accumulate on a shared one.
	p := paseto.NewParser()
	if v.issuer != "" {
		p.AddRule(paseto.IssuedBy(v.issuer))
	}
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(now.Add(v.clockSkew)))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Claims{}, ErrInvalidToken
	}
	sid, _ := parsed.GetString("sid")
	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		UserID:    uid,
		SessionID: sid,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}

// PasetoSigner mints access tokens in the format PasetoVerifier accepts.
// Haven never issues tokens in production; the signer backs tests and the
// smoke tool.
type PasetoSigner struct {
	issuer string
	ttl    time.Duration
	secret paseto.V4AsymmetricSecretKey
}

// NewPasetoSigner builds a signer from a hex-encoded Ed25519 secret key.
func NewPasetoSigner(secretKeyHex, issuer string, ttl time.Duration) (*PasetoSigner, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(secretKeyHex))
	if err != nil || ttl <= 0 {
		return nil, ErrConfig
	}
	return &PasetoSigner{issuer: issuer, ttl: ttl, secret: secret}, nil
}

// PublicKeyHex returns the verifier key matching the signer.
func (s *PasetoSigner) PublicKeyHex() string {
	return s.secret.Public().ExportHex()
}

// Issue signs a token for userID/sessionID valid from now for the signer's TTL.
func (s *PasetoSigner) Issue(userID, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(s.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	if err := tok.Set("uid", userID); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set("sid", sessionID); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(s.secret, nil), exp, nil
}
