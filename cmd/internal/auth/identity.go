package auth

import (
	"context"
	"errors"
	"net/http"
)

// Identity is the authenticated caller of a request or connection.
type Identity struct {
	UserID    string
	SessionID string
}

// Authenticator resolves the caller of r.
//
// It returns ErrUnauthenticated when r carries no credentials at all and
// ErrInvalidToken when the credentials are present but rejected.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// Chain tries each authenticator in order. An authenticator that finds no
// credentials passes to the next one; any other outcome is final.
type Chain []Authenticator

var _ Authenticator = Chain(nil)

func (c Chain) Authenticate(r *http.Request) (Identity, error) {
	for _, a := range c {
		if a == nil {
			continue
		}
		id, err := a.Authenticate(r)
		if errors.Is(err, ErrUnauthenticated) {
			continue
		}
		return id, err
	}
	return Identity{}, ErrUnauthenticated
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the Identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}
