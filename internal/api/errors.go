package api

import "github.com/notwithouthelp/client-go/internal/apierrors"

// Re-exported sentinels so callers of this package can match errors
// without importing apierrors.
var (
	ErrNotFound        = apierrors.ErrNotFound
	ErrUnauthorized    = apierrors.ErrUnauthorized
	ErrForbidden       = apierrors.ErrForbidden
	ErrPayloadTooLarge = apierrors.ErrPayloadTooLarge
	ErrUnexpected      = apierrors.ErrUnexpected
)
