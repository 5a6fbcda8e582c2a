// Package apierrors provides the transport and authorization error taxonomy
// shared by the API client and the public SDK.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for errors.Is() checks. Each maps 1:1 to a response status.
var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned for 401 responses: the access token is
	// missing, expired or was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned for 403 responses: the token's role does not
	// permit the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrPayloadTooLarge is returned for 413 responses.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnexpected is returned for every other non-2xx response.
	ErrUnexpected = errors.New("unexpected API error")
)

// Kind names an error category in the same terms the web client uses.
type Kind string

const (
	KindNotFound        Kind = "not-found"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindPayloadTooLarge Kind = "payload-too-large"
	KindUnexpected      Kind = "unexpected"
)

// KindOf maps an HTTP status code to an error kind.
func KindOf(statusCode int) Kind {
	switch statusCode {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusRequestEntityTooLarge:
		return KindPayloadTooLarge
	default:
		return KindUnexpected
	}
}

// ResourceType indicates which type of resource an error relates to.
type ResourceType string

const (
	// ResourceUnknown indicates the resource type is not specified.
	ResourceUnknown    ResourceType = ""
	ResourceForm       ResourceType = "form"
	ResourceKey        ResourceType = "key"
	ResourceSubmission ResourceType = "submission"
	ResourcePassword   ResourceType = "password"
	ResourceChallenge  ResourceType = "challenge"
	ResourceToken      ResourceType = "token"
)

// APIError represents a non-2xx response from the API.
type APIError struct {
	StatusCode   int
	Message      string
	RequestID    string
	ResourceType ResourceType
}

func (e *APIError) Error() string {
	prefix := "API error"
	if e.ResourceType != ResourceUnknown {
		prefix = fmt.Sprintf("API error (%s)", e.ResourceType)
	}
	if e.RequestID != "" {
		if e.Message != "" {
			return fmt.Sprintf("%s %d: %s (request_id: %s)", prefix, e.StatusCode, e.Message, e.RequestID)
		}
		return fmt.Sprintf("%s %d (request_id: %s)", prefix, e.StatusCode, e.RequestID)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %d: %s", prefix, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %d", prefix, e.StatusCode)
}

// Kind returns the error category for the response status.
func (e *APIError) Kind() Kind {
	return KindOf(e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.Kind() {
	case KindNotFound:
		return target == ErrNotFound
	case KindUnauthorized:
		return target == ErrUnauthorized
	case KindForbidden:
		return target == ErrForbidden
	case KindPayloadTooLarge:
		return target == ErrPayloadTooLarge
	default:
		return target == ErrUnexpected
	}
}

// WithResourceType returns a copy of the error with the resource type set.
// If the error is not an *APIError, it is returned unchanged.
func WithResourceType(err error, rt ResourceType) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode:   apiErr.StatusCode,
			Message:      apiErr.Message,
			RequestID:    apiErr.RequestID,
			ResourceType: rt,
		}
	}
	return err
}

// KindFromError extracts the kind of an API error. ok is false when err is
// not an API error.
func KindFromError(err error) (kind Kind, ok bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind(), true
	}
	return "", false
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}
