package msgcrypt

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const tokenPrefix = "v1."

// Codec encrypts and decrypts message bodies with one process-wide key.
// It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
	rand io.Reader
}

// New constructs a Codec. It refuses to initialize without a valid key.
func New(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeyInvalid
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	return &Codec{aead: aead, rand: rand.Reader}, nil
}

// NewFromEnv builds a Codec from HAVEN_MESSAGE_KEY.
func NewFromEnv() (*Codec, error) {
	key, err := KeyFromEnv()
	if err != nil {
		return nil, err
	}
	return New(key)
}

// Encrypt seals plaintext into a token.
// Failures propagate: a body that cannot be encrypted must not be stored.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrEncrypt, err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open is the strict decrypt: it reports malformed or tampered tokens.
func (c *Codec) Open(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown token version", ErrDecrypt)
	}
	raw, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return "", fmt.Errorf("%w: encoding", ErrDecrypt)
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: short token", ErrDecrypt)
	}

	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication", ErrDecrypt)
	}
	return string(plain), nil
}

// Decrypt returns the plaintext, or DecryptFailedPlaceholder when the token
// cannot be opened.
func (c *Codec) Decrypt(token string) string {
	s, err := c.Open(token)
	if err != nil {
		return DecryptFailedPlaceholder
	}
	return s
}
