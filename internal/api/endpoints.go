package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/notwithouthelp/client-go/internal/apierrors"
	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
)

func formPath(prefix string, formID link.FormID) string {
	return fmt.Sprintf("/%s/%s", prefix, url.PathEscape(string(formID)))
}

func keyPath(prefix string, k link.Key) string {
	return fmt.Sprintf("/%s/%s/%s", prefix, url.PathEscape(string(k.FormID)), url.PathEscape(string(k.ClientKeyID)))
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// GetForm fetches the public part of a form. No authentication is needed.
func (c *Client) GetForm(ctx context.Context, formID link.FormID) (*Form, error) {
	var resp getFormResponse
	if err := c.Do(ctx, http.MethodGet, formPath("forms", formID), nil, &resp); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceForm)
	}

	raw, err := crypto.FromBase64(resp.PublicPrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("decode public primary key: %w", err)
	}
	pub, err := crypto.PublicPrimaryKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode public primary key: %w", err)
	}

	return &Form{
		OrgName:          resp.OrgName,
		Description:      resp.Description,
		ContactMethods:   resp.ContactMethods,
		PublicPrimaryKey: pub,
	}, nil
}

// PostForm publishes a new form. The returned key is the organizer's
// initial admin key.
func (c *Client) PostForm(ctx context.Context, form NewForm) (link.Key, error) {
	req := postFormRequest{
		PublicPrimaryKey: crypto.ToBase64(form.PublicPrimaryKey[:]),
		PublicSigningKey: crypto.ToBase64(form.PublicSigningKey[:]),
		OrgName:          form.OrgName,
		Description:      form.Description,
		ContactMethods:   form.ContactMethods,
		ExpiresAt:        formatTime(form.ExpiresAt),
	}
	if req.ContactMethods == nil {
		req.ContactMethods = []string{}
	}

	var resp postFormResponse
	if err := c.Do(ctx, http.MethodPost, "/forms", req, &resp); err != nil {
		return link.Key{}, apierrors.WithResourceType(err, apierrors.ResourceForm)
	}
	if resp.FormID == "" || resp.ClientKeyID == "" {
		return link.Key{}, errors.New("publish form: response is missing the form or key id")
	}
	return link.Key{FormID: resp.FormID, ClientKeyID: resp.ClientKeyID}, nil
}

// PatchForm edits a form. Requires an admin token.
func (c *Client) PatchForm(ctx context.Context, token string, formID link.FormID, update FormUpdate) error {
	req := patchFormRequest{
		OrgName:        update.OrgName,
		Description:    update.Description,
		ContactMethods: update.ContactMethods,
		ExpiresAt:      formatTime(update.ExpiresAt),
	}
	err := c.DoWithToken(ctx, token, http.MethodPatch, formPath("forms", formID), req, nil)
	return apierrors.WithResourceType(err, apierrors.ResourceForm)
}

// DeleteForm deletes a form and everything attached to it. Requires an
// admin token.
func (c *Client) DeleteForm(ctx context.Context, token string, formID link.FormID) error {
	err := c.DoWithToken(ctx, token, http.MethodDelete, formPath("forms", formID), nil, nil)
	return apierrors.WithResourceType(err, apierrors.ResourceForm)
}

// PostSubmission stores an encrypted submission. No authentication is needed.
func (c *Client) PostSubmission(ctx context.Context, formID link.FormID, body crypto.EncryptedSubmissionBody) error {
	req := postSubmissionRequest{EncryptedBody: crypto.ToBase64(body)}
	err := c.Do(ctx, http.MethodPost, formPath("submissions", formID), req, nil)
	return apierrors.WithResourceType(err, apierrors.ResourceSubmission)
}

// ListSubmissions returns every submission of a form, oldest first.
func (c *Client) ListSubmissions(ctx context.Context, token string, formID link.FormID) ([]Submission, error) {
	var resp []submissionResponse
	if err := c.DoWithToken(ctx, token, http.MethodGet, formPath("submissions", formID), nil, &resp); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceSubmission)
	}

	subs := make([]Submission, 0, len(resp))
	for i, s := range resp {
		body, err := crypto.FromBase64(s.EncryptedBody)
		if err != nil {
			return nil, fmt.Errorf("decode submission %d: %w", i, err)
		}
		subs = append(subs, Submission{EncryptedBody: body, CreatedAt: s.CreatedAt})
	}
	return subs, nil
}

// RequestChallenge asks the server for a challenge JWT for a client key.
func (c *Client) RequestChallenge(ctx context.Context, k link.Key) (string, error) {
	var resp challengeResponse
	if err := c.Do(ctx, http.MethodPost, keyPath("challenges", k), nil, &resp); err != nil {
		return "", apierrors.WithResourceType(err, apierrors.ResourceChallenge)
	}
	if resp.Challenge == "" {
		return "", errors.New("request challenge: empty challenge")
	}
	return resp.Challenge, nil
}

// RequestAccessToken exchanges a signed challenge for an access JWT.
func (c *Client) RequestAccessToken(ctx context.Context, challenge string, sig crypto.ChallengeSignature) (string, error) {
	req := postTokenRequest{
		Signature: crypto.ToBase64(sig[:]),
		Challenge: challenge,
	}
	var resp postTokenResponse
	if err := c.Do(ctx, http.MethodPost, "/tokens", req, &resp); err != nil {
		return "", apierrors.WithResourceType(err, apierrors.ResourceToken)
	}
	if resp.Token == "" {
		return "", errors.New("request access token: empty token")
	}
	return resp.Token, nil
}

// GetKey fetches the record of the key the token was issued for.
func (c *Client) GetKey(ctx context.Context, token string, k link.Key) (*KeyDetails, error) {
	var resp getKeyResponse
	if err := c.DoWithToken(ctx, token, http.MethodGet, keyPath("keys", k), nil, &resp); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceKey)
	}

	details := &KeyDetails{}
	if resp.WrappedPrivatePrimaryKey != nil && *resp.WrappedPrivatePrimaryKey != "" {
		wrapped, err := crypto.FromBase64(*resp.WrappedPrivatePrimaryKey)
		if err != nil {
			return nil, fmt.Errorf("decode wrapped private primary key: %w", err)
		}
		details.WrappedPrivatePrimaryKey = wrapped
	}
	if resp.EncryptedComment != "" {
		comment, err := crypto.FromBase64(resp.EncryptedComment)
		if err != nil {
			return nil, fmt.Errorf("decode key comment: %w", err)
		}
		details.EncryptedComment = comment
	}
	return details, nil
}

// ListKeys lists every client key of a form. Requires an admin token.
func (c *Client) ListKeys(ctx context.Context, token string, formID link.FormID) ([]KeyRecord, error) {
	var resp []keyRecordResponse
	if err := c.DoWithToken(ctx, token, http.MethodGet, formPath("keys", formID), nil, &resp); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceKey)
	}

	records := make([]KeyRecord, 0, len(resp))
	for _, r := range resp {
		rec := KeyRecord{ClientKeyID: r.ClientKeyID, Role: r.Role, AccessedAt: r.AccessedAt}
		if r.EncryptedComment != "" {
			comment, err := crypto.FromBase64(r.EncryptedComment)
			if err != nil {
				return nil, fmt.Errorf("decode comment of key %s: %w", r.ClientKeyID, err)
			}
			rec.EncryptedComment = comment
		}
		records = append(records, rec)
	}
	return records, nil
}

// PostKey adds a client key to a form. Requires an admin token.
func (c *Client) PostKey(ctx context.Context, token string, formID link.FormID, key NewKey) (link.ClientKeyID, error) {
	req := postKeyRequest{
		PublicSigningKey:         crypto.ToBase64(key.PublicSigningKey[:]),
		WrappedPrivatePrimaryKey: crypto.ToBase64(key.WrappedPrivatePrimaryKey),
		EncryptedComment:         crypto.ToBase64(key.EncryptedComment),
		Role:                     key.Role,
	}
	var resp postKeyResponse
	if err := c.DoWithToken(ctx, token, http.MethodPost, formPath("keys", formID), req, &resp); err != nil {
		return "", apierrors.WithResourceType(err, apierrors.ResourceKey)
	}
	if resp.ClientKeyID == "" {
		return "", errors.New("add key: response is missing the key id")
	}
	return resp.ClientKeyID, nil
}

// PatchKey updates a key record. Requires an admin token.
func (c *Client) PatchKey(ctx context.Context, token string, k link.Key, update KeyUpdate) error {
	var req patchKeyRequest
	if update.WrappedPrivatePrimaryKey != nil {
		s := crypto.ToBase64(update.WrappedPrivatePrimaryKey)
		req.WrappedPrivatePrimaryKey = &s
	}
	if update.EncryptedComment != nil {
		s := crypto.ToBase64(update.EncryptedComment)
		req.EncryptedComment = &s
	}
	err := c.DoWithToken(ctx, token, http.MethodPatch, keyPath("keys", k), req, nil)
	return apierrors.WithResourceType(err, apierrors.ResourceKey)
}

// DeleteKey revokes a client key. Requires an admin token.
func (c *Client) DeleteKey(ctx context.Context, token string, k link.Key) error {
	err := c.DoWithToken(ctx, token, http.MethodDelete, keyPath("keys", k), nil, nil)
	return apierrors.WithResourceType(err, apierrors.ResourceKey)
}

// GetPasswordParams fetches the password parameters of a secret link. It
// returns nil, nil when the link is not password protected.
func (c *Client) GetPasswordParams(ctx context.Context, k link.Key) (*crypto.PasswordParams, error) {
	var resp passwordParams
	if err := c.Do(ctx, http.MethodGet, keyPath("passwords", k), nil, &resp); err != nil {
		if errors.Is(err, apierrors.ErrNotFound) {
			return nil, nil
		}
		return nil, apierrors.WithResourceType(err, apierrors.ResourcePassword)
	}

	salt, err := crypto.FromBase64(resp.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode password salt: %w", err)
	}
	nonce, err := crypto.FromBase64(resp.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode password nonce: %w", err)
	}
	params, err := crypto.PasswordParamsFromBytes(salt, nonce)
	if err != nil {
		return nil, err
	}
	return &params, nil
}

// PutPasswordParams stores the password parameters of a secret link,
// marking it as protected.
func (c *Client) PutPasswordParams(ctx context.Context, token string, k link.Key, params crypto.PasswordParams) error {
	req := passwordParams{
		Salt:  crypto.ToBase64(params.Salt[:]),
		Nonce: crypto.ToBase64(params.Nonce[:]),
	}
	err := c.DoWithToken(ctx, token, http.MethodPut, keyPath("passwords", k), req, nil)
	return apierrors.WithResourceType(err, apierrors.ResourcePassword)
}
