// Package api is the HTTP client for the intake form server. It handles
// bearer authentication, JSON serialization with base64 binary fields, and
// retries with exponential backoff for transient failures.
//
// # Client Creation
//
//   - [NewClient]: struct-based configuration.
//   - [New]: functional options, starting from the production base URL.
//
// # Retry Behavior
//
// Idempotent requests (GET, PUT, DELETE) are retried up to 3 times by
// default for these status codes:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// POST and PATCH are never retried: a form or submission must not be
// created twice.
//
// # Error Handling
//
// Non-2xx responses become [APIError] values that match exactly one of
// [ErrNotFound], [ErrUnauthorized], [ErrForbidden], [ErrPayloadTooLarge] or
// [ErrUnexpected] under errors.Is. Transport failures become [NetworkError].
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
