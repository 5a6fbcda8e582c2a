package nwh

import (
	"time"

	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
	"github.com/notwithouthelp/client-go/internal/state"
	"github.com/notwithouthelp/client-go/internal/token"
)

// Identifiers and links.
type (
	// FormID identifies a form.
	FormID = link.FormID
	// ClientKeyID identifies one client key (one secret link) of a form.
	ClientKeyID = link.ClientKeyID
	// LinkKey is the (form, client key) pair every session cache is keyed by.
	LinkKey = link.Key
	// SecretLink grants access to one key record. Its fragment carries the
	// secret link key, raw or password protected, and must never be sent
	// to the server.
	SecretLink = link.SecretLink
	// ShareLink is the public link submitters use.
	ShareLink = link.ShareLink
)

// Key material. Private key types redact themselves when printed and can
// be wiped with Wipe.
type (
	DerivedKeys       = crypto.DerivedKeys
	PrivatePrimaryKey = crypto.PrivatePrimaryKey
	PublicPrimaryKey  = crypto.PublicPrimaryKey
	PublicSigningKey  = crypto.PublicSigningKey
)

// AccessToken is a bearer token with the claims read from its payload.
// The claims are not verified and are only used for scheduling and display.
type AccessToken = token.AccessToken

// Role is the access level of a client key. It is advisory: the server
// enforces authorization and nothing in this package branches on it.
type Role = token.Role

// Roles issued by the server.
const (
	RoleRead  = token.RoleRead
	RoleAdmin = token.RoleAdmin
)

// Loadable is the three-state result of one pipeline stage: loading, done
// with a value, or failed with an error.
type Loadable[T any] = state.Loadable[T]

// Status is the state of a Loadable.
type Status = state.Status

// Loadable states.
const (
	StatusLoading = state.Loading
	StatusDone    = state.Done
	StatusFailed  = state.Failed
)

// ParseSecretLink parses a secret link fragment, or a full URL containing
// one. A malformed link is a terminal error.
func ParseSecretLink(s string) (SecretLink, error) {
	return link.ParseSecretLink(s)
}

// ParseShareLink parses a share link fragment, or a full URL containing one.
func ParseShareLink(s string) (ShareLink, error) {
	return link.ParseShareLink(s)
}

// Form is the public part of a form.
type Form struct {
	ID               FormID
	OrgName          string
	Description      string
	ContactMethods   []string
	PublicPrimaryKey PublicPrimaryKey
}

// FormTemplate is what an organizer publishes.
type FormTemplate struct {
	OrgName        string   `validate:"required,max=256"`
	Description    string   `validate:"max=8192"`
	ContactMethods []string `validate:"required,min=1,dive,contactmethod"`
	ExpiresAt      *time.Time
}

// FormEdit carries the form fields to change. Nil fields are left alone.
type FormEdit struct {
	OrgName        *string  `validate:"omitempty,max=256"`
	Description    *string  `validate:"omitempty,max=8192"`
	ContactMethods []string `validate:"omitempty,dive,contactmethod"`
	ExpiresAt      *time.Time
}

// PublishedForm is the result of publishing a form.
type PublishedForm struct {
	// SecretLink is the organizer's admin link.
	SecretLink SecretLink
	// ShareLink is the public link for submitters.
	ShareLink ShareLink
	// Protected reports whether SecretLink carries a password-protected key.
	Protected bool
}

// IssuedKey is a secret link added to a form.
type IssuedKey struct {
	ClientKeyID ClientKeyID
	Role        Role
	Link        SecretLink
	Protected   bool
}

// KeyInfo describes one client key of a form.
type KeyInfo struct {
	ClientKeyID ClientKeyID
	Comment     string
	Role        Role
	AccessedAt  *time.Time
	// Current is set for the key of the session that listed the keys.
	Current bool
}
