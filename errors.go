package nwh

import (
	"errors"
	"fmt"

	"github.com/notwithouthelp/client-go/internal/apierrors"
	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
	"github.com/notwithouthelp/client-go/internal/linkkey"
	"github.com/notwithouthelp/client-go/internal/token"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrSessionClosed is returned when operations are attempted on a closed session.
	ErrSessionClosed = errors.New("session has been closed")

	// ErrLocked is returned by a stage whose upstream stage is waiting for
	// input, typically a password. It is always joined with the upstream
	// error, e.g. ErrPasswordRequired.
	ErrLocked = errors.New("waiting on an earlier stage")

	// ErrUnsupportedVersion is returned when a submission body carries a
	// schema version this client does not know.
	ErrUnsupportedVersion = errors.New("unsupported submission version")

	// ErrNoPrivateKey is returned when the key record does not hold a
	// wrapped private primary key yet.
	ErrNoPrivateKey = errors.New("key record has no wrapped private primary key")
)

// Transport and authorization errors, mapped 1:1 from response status.
var (
	ErrNotFound        = apierrors.ErrNotFound
	ErrUnauthorized    = apierrors.ErrUnauthorized
	ErrForbidden       = apierrors.ErrForbidden
	ErrPayloadTooLarge = apierrors.ErrPayloadTooLarge
	ErrUnexpected      = apierrors.ErrUnexpected
)

// Cryptographic errors. Wrong keys, wrong passwords and corrupted data all
// match ErrDecryptionFailed.
var (
	ErrDecryptionFailed = crypto.ErrDecryptionFailed
	ErrInvalidPassword  = linkkey.ErrInvalidPassword
)

// Protocol-state errors.
var (
	ErrPasswordRequired = linkkey.ErrPasswordRequired
	ErrIdleTimeout      = linkkey.ErrIdleTimeout
	ErrMalformedLink    = link.ErrMalformedLink
	ErrMalformedToken   = token.ErrMalformedToken
)

// APIError represents a non-2xx response from the API.
type APIError = apierrors.APIError

// NetworkError represents a network-level failure.
type NetworkError = apierrors.NetworkError

// ErrorKind names an error category in the terms a user interface shows.
type ErrorKind string

// Error kinds. The first five map 1:1 from response status.
const (
	KindNotFound         ErrorKind = ErrorKind(apierrors.KindNotFound)
	KindUnauthorized     ErrorKind = ErrorKind(apierrors.KindUnauthorized)
	KindForbidden        ErrorKind = ErrorKind(apierrors.KindForbidden)
	KindPayloadTooLarge  ErrorKind = ErrorKind(apierrors.KindPayloadTooLarge)
	KindUnexpected       ErrorKind = ErrorKind(apierrors.KindUnexpected)
	KindNetwork          ErrorKind = "network"
	KindDecryption       ErrorKind = "decryption-failed"
	KindInvalidPassword  ErrorKind = "invalid-password"
	KindPasswordRequired ErrorKind = "password-required"
	KindMalformedLink    ErrorKind = "malformed-link"
	KindUnsupported      ErrorKind = "unsupported-version"
	KindValidation       ErrorKind = "validation"
	KindClosed           ErrorKind = "closed"
)

// KindOf categorizes err. A decryption failure is never reported as
// unauthorized.
func KindOf(err error) ErrorKind {
	if kind, ok := apierrors.KindFromError(err); ok {
		return ErrorKind(kind)
	}

	var netErr *NetworkError
	var valErr *ValidationError
	switch {
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.Is(err, ErrInvalidPassword):
		return KindInvalidPassword
	case errors.Is(err, ErrDecryptionFailed):
		return KindDecryption
	case errors.Is(err, ErrPasswordRequired):
		return KindPasswordRequired
	case errors.Is(err, ErrMalformedLink), errors.Is(err, ErrMalformedToken):
		return KindMalformedLink
	case errors.Is(err, ErrUnsupportedVersion):
		return KindUnsupported
	case errors.As(err, &valErr):
		return KindValidation
	case errors.Is(err, ErrClientClosed), errors.Is(err, ErrSessionClosed):
		return KindClosed
	default:
		return KindUnexpected
	}
}

// DecryptionError records which stage failed to open its ciphertext. The
// cause is always ErrDecryptionFailed; nothing finer is exposed.
type DecryptionError struct {
	Stage string // "private-key", "submission", "comment"
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryptionFailed
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Errors)
}
