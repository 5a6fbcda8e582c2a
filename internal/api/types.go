package api

import (
	"time"

	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
	"github.com/notwithouthelp/client-go/internal/token"
)

// Wire types. Binary fields are standard base64 strings and names are
// snake_case, matching the server's serde models.

type getFormResponse struct {
	OrgName          string   `json:"org_name"`
	Description      string   `json:"description"`
	ContactMethods   []string `json:"contact_methods"`
	PublicPrimaryKey string   `json:"public_primary_key"`
}

type postFormRequest struct {
	PublicPrimaryKey string   `json:"public_primary_key"`
	PublicSigningKey string   `json:"public_signing_key"`
	OrgName          string   `json:"org_name"`
	Description      string   `json:"description"`
	ContactMethods   []string `json:"contact_methods"`
	ExpiresAt        *string  `json:"expires_at,omitempty"`
}

type postFormResponse struct {
	FormID      link.FormID      `json:"form_id"`
	ClientKeyID link.ClientKeyID `json:"client_key_id"`
}

type patchFormRequest struct {
	OrgName        *string  `json:"org_name,omitempty"`
	Description    *string  `json:"description,omitempty"`
	ContactMethods []string `json:"contact_methods,omitempty"`
	ExpiresAt      *string  `json:"expires_at,omitempty"`
}

type postSubmissionRequest struct {
	EncryptedBody string `json:"encrypted_body"`
}

type submissionResponse struct {
	EncryptedBody string    `json:"encrypted_body"`
	CreatedAt     time.Time `json:"created_at"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
}

type postTokenRequest struct {
	Signature string `json:"signature"`
	Challenge string `json:"challenge"`
}

type postTokenResponse struct {
	Token string `json:"token"`
}

type getKeyResponse struct {
	WrappedPrivatePrimaryKey *string `json:"wrapped_private_primary_key"`
	EncryptedComment         string  `json:"encrypted_comment,omitempty"`
}

type keyRecordResponse struct {
	ClientKeyID      link.ClientKeyID `json:"client_key_id"`
	EncryptedComment string           `json:"encrypted_comment"`
	Role             token.Role       `json:"role"`
	AccessedAt       *time.Time       `json:"accessed_at"`
}

type postKeyRequest struct {
	PublicSigningKey         string     `json:"public_signing_key"`
	WrappedPrivatePrimaryKey string     `json:"wrapped_private_primary_key"`
	EncryptedComment         string     `json:"encrypted_comment"`
	Role                     token.Role `json:"role"`
}

type postKeyResponse struct {
	ClientKeyID link.ClientKeyID `json:"client_key_id"`
}

type patchKeyRequest struct {
	WrappedPrivatePrimaryKey *string `json:"wrapped_private_primary_key,omitempty"`
	EncryptedComment         *string `json:"encrypted_comment,omitempty"`
}

type passwordParams struct {
	Salt  string `json:"salt"`
	Nonce string `json:"nonce"`
}

// Decoded types returned by the endpoint methods.

// Form is the public part of a form.
type Form struct {
	OrgName          string
	Description      string
	ContactMethods   []string
	PublicPrimaryKey crypto.PublicPrimaryKey
}

// NewForm is what an organizer publishes.
type NewForm struct {
	PublicPrimaryKey crypto.PublicPrimaryKey
	PublicSigningKey crypto.PublicSigningKey
	OrgName          string
	Description      string
	ContactMethods   []string
	ExpiresAt        *time.Time
}

// FormUpdate carries the fields to change. Nil fields are left alone.
type FormUpdate struct {
	OrgName        *string
	Description    *string
	ContactMethods []string
	ExpiresAt      *time.Time
}

// Submission is one encrypted submission as stored by the server.
type Submission struct {
	EncryptedBody crypto.EncryptedSubmissionBody
	CreatedAt     time.Time
}

// KeyDetails is the key record of the authenticated client key.
// WrappedPrivatePrimaryKey is nil until the organizer uploads it.
type KeyDetails struct {
	WrappedPrivatePrimaryKey crypto.WrappedPrivatePrimaryKey
	EncryptedComment         crypto.EncryptedKeyComment
}

// KeyRecord is one entry of a form's key list.
type KeyRecord struct {
	ClientKeyID      link.ClientKeyID
	EncryptedComment crypto.EncryptedKeyComment
	Role             token.Role
	AccessedAt       *time.Time
}

// NewKey is a key record to add to a form.
type NewKey struct {
	PublicSigningKey         crypto.PublicSigningKey
	WrappedPrivatePrimaryKey crypto.WrappedPrivatePrimaryKey
	EncryptedComment         crypto.EncryptedKeyComment
	Role                     token.Role
}

// KeyUpdate carries the key record fields to change. Nil fields are left alone.
type KeyUpdate struct {
	WrappedPrivatePrimaryKey crypto.WrappedPrivatePrimaryKey
	EncryptedComment         crypto.EncryptedKeyComment
}
