package directory

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// StaticDirectory is an in-memory Directory for development and tests.
type StaticDirectory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

var _ Directory = (*StaticDirectory)(nil)

// NewStaticDirectory constructs a directory seeded with profiles.
func NewStaticDirectory(profiles ...Profile) *StaticDirectory {
	d := &StaticDirectory{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		d.Put(p)
	}
	return d
}

// Put inserts or replaces a profile.
func (d *StaticDirectory) Put(p Profile) {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return
	}
	p.PushTokens = slices.Clone(p.PushTokens)

	d.mu.Lock()
	d.profiles[p.UserID] = p
	d.mu.Unlock()
}

// Lookup returns the stored profile or ErrUserNotFound.
func (d *StaticDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	d.mu.RLock()
	p, ok := d.profiles[strings.TrimSpace(userID)]
	d.mu.RUnlock()

	if !ok {
		return Profile{}, ErrUserNotFound
	}
	p.PushTokens = slices.Clone(p.PushTokens)
	return p, nil
}
