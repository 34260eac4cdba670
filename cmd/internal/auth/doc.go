// Package auth is Haven's identity boundary.
//
// Credentials are issued elsewhere. This package only turns an incoming
// HTTP or websocket request into an Identity: PASETO v4.public access
// tokens in production, a trusted X-User-ID header in development.
package auth
