package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every input rejection.
	ErrValidation = errors.New("invalid input")
	// ErrPermission is the root of every access rejection.
	ErrPermission = errors.New("permission denied")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")

	ErrNotParticipant = errors.New("user is not a participant")
	ErrNotSender      = errors.New("user is not the sender")

	ErrEmptyMessage        = errors.New("message body and attachment are both empty")
	ErrMessageTooLong      = errors.New("message body too long")
	ErrAttachmentTooLong   = errors.New("attachment reference too long")
	ErrTooFewParticipants  = errors.New("at least two distinct participants are required")
	ErrTooManyParticipants = errors.New("too many participants")
	ErrInvalidSubject      = errors.New("invalid subject reference")
	ErrMissingID           = errors.New("missing identifier")
)

// ValidationError describes rejected input. It matches ErrValidation and
// the specific reason with errors.Is.
type ValidationError struct {
	Field  string
	Reason error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Reason == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Reason}
}

func invalid(field string, reason error) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PermissionError describes a user acting on a conversation or message they
// may not touch. It matches ErrPermission and the specific reason.
type PermissionError struct {
	UserID         string
	ConversationID string
	Action         string
	Reason         error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s on conversation %s by %s: %v",
		ErrPermission, e.Action, e.ConversationID, e.UserID, e.Reason)
}

func (e *PermissionError) Unwrap() []error {
	if e.Reason == nil {
		return []error{ErrPermission}
	}
	return []error{ErrPermission, e.Reason}
}

func denied(action, conversationID, userID string, reason error) error {
	return &PermissionError{
		UserID:         userID,
		ConversationID: conversationID,
		Action:         action,
		Reason:         reason,
	}
}

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound) || errors.Is(err, ErrMessageNotFound)
}
