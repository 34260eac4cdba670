// Package directory resolves user ids to the contact details and channel
// preferences the notification dispatcher needs. Accounts themselves are
// managed elsewhere; this package only reads them.
package directory

import (
	"context"
	"errors"
	"strings"
)

// ErrUserNotFound is returned when a user id is unknown.
var ErrUserNotFound = errors.New("user not found")

// Prefs holds per-channel opt-in flags.
type Prefs struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// DefaultPrefs is applied when a user has no stored preferences: push and
// email on, SMS off until explicitly opted in.
var DefaultPrefs = Prefs{Push: true, Email: true}

// Profile is the directory view of one user. Optional contact fields are
// nil when absent.
type Profile struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Email       *string  `json:"email,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	PushTokens  []string `json:"push_tokens,omitempty"`
	Prefs       Prefs    `json:"prefs"`
}

// Name returns the display name, falling back to the user id.
func (p Profile) Name() string {
	if n := strings.TrimSpace(p.DisplayName); n != "" {
		return n
	}
	return p.UserID
}

// EmailAddress returns the trimmed email and whether one is present.
func (p Profile) EmailAddress() (string, bool) {
	return optional(p.Email)
}

// PhoneNumber returns the trimmed phone number and whether one is present.
func (p Profile) PhoneNumber() (string, bool) {
	return optional(p.Phone)
}

func optional(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	v := strings.TrimSpace(*s)
	return v, v != ""
}

// Directory looks users up by id.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Profile, error)
}
