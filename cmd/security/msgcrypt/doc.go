// Package msgcrypt encrypts message bodies at rest.
//
// A single symmetric key is loaded once at process start. Tokens are
// XChaCha20-Poly1305 sealed boxes encoded as "v1." + base64url(nonce || box).
//
// Environment:
//   - HAVEN_MESSAGE_KEY: 32 bytes, standard or URL-safe base64. Required.
//
// Behavior:
//   - Encrypt("") returns "" without touching the cipher.
//   - Decrypt never fails: malformed or tampered tokens become
//     DecryptFailedPlaceholder so the read path keeps rendering.
//   - Open is the strict variant for callers that need the error.
package msgcrypt
