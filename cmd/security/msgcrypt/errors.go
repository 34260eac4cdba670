package msgcrypt

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing = errors.New("message key missing")
	ErrKeyInvalid = errors.New("message key invalid")
	ErrEncrypt    = errors.New("message encryption failed")
	ErrDecrypt    = errors.New("message decryption failed")
)

// DecryptFailedPlaceholder is shown in place of a body that cannot be decrypted.
const DecryptFailedPlaceholder = "[message could not be decrypted]"
