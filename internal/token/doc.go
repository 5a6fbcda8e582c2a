// Package token implements the challenge-response flow that exchanges a
// signature over a server nonce for a short-lived bearer token.
//
// Per client key the [Authenticator] moves through
//
//	no-token -> requesting -> authenticated -> expired -> requesting ...
//
// Concurrent callers for the same key share one round trip. A cached token
// is dropped a configurable skew before its embedded expiry, so an expired
// token is never presented to the server.
//
// Token claims are read without verifying the signature. They are used to
// schedule expiry and for display; the server enforces authorization.
package token
