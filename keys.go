package nwh

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/notwithouthelp/client-go/internal/api"
	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
	"github.com/notwithouthelp/client-go/internal/state"
)

// Organizer operations. They need an admin link; the server rejects them
// with ErrForbidden otherwise.

// AddKey issues a new secret link for the form. The new link gets its own
// secret link key, and the form's private primary key is wrapped under the
// new link's wrapping key before it is uploaded.
func (s *Session) AddKey(ctx context.Context, opts ...KeyOption) (*IssuedKey, error) {
	kc := &keyConfig{role: RoleRead}
	for _, opt := range opts {
		opt(kc)
	}
	if !kc.role.Valid() {
		return nil, fmt.Errorf("add key: unknown role %q", kc.role)
	}

	kp, tok, err := s.unlocked(ctx)
	if err != nil {
		return nil, err
	}
	defer kp.Private.Wipe()

	secret, err := crypto.GenerateSecretLinkKey()
	if err != nil {
		return nil, fmt.Errorf("generate secret link key: %w", err)
	}
	defer secret.Wipe()
	keys := crypto.DeriveKeys(secret)
	defer keys.Wipe()

	wrapped, err := crypto.WrapPrivatePrimaryKey(kp.Private, keys.SecretWrappingKey)
	if err != nil {
		return nil, err
	}
	comment, err := crypto.SealKeyComment(kc.comment, kp.Public)
	if err != nil {
		return nil, err
	}

	formID := s.Key().FormID
	id, err := s.client.apiClient.PostKey(ctx, tok.Raw, formID, api.NewKey{
		PublicSigningKey:         keys.PublicSigningKey,
		WrappedPrivatePrimaryKey: wrapped,
		EncryptedComment:         comment,
		Role:                     kc.role,
	})
	if err != nil {
		s.authFailed(err)
		return nil, fmt.Errorf("add key: %w", err)
	}

	issued := &IssuedKey{
		ClientKeyID: id,
		Role:        kc.role,
		Link:        link.SecretLink{FormID: formID, ClientKeyID: id, KeyBytes: append([]byte(nil), secret[:]...)},
	}
	if kc.password != "" {
		protected, err := s.client.protect(ctx, tok, issued.Link.Key(), secret, kc.password)
		if err != nil {
			return nil, err
		}
		issued.Link.KeyBytes = protected
		issued.Protected = true
	}

	level.Info(s.logger).Log("msg", "secret link issued", "new_key", id, "role", kc.role)
	return issued, nil
}

// ListKeys lists every client key of the form with its comment decrypted.
func (s *Session) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	kp, tok, err := s.unlocked(ctx)
	if err != nil {
		return nil, err
	}
	defer kp.Private.Wipe()

	own := s.Key()
	records, err := s.client.apiClient.ListKeys(ctx, tok.Raw, own.FormID)
	if err != nil {
		s.authFailed(err)
		return nil, err
	}

	out := make([]KeyInfo, 0, len(records))
	for _, r := range records {
		comment, err := openComment(r.EncryptedComment, kp)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", r.ClientKeyID, err)
		}
		out = append(out, KeyInfo{
			ClientKeyID: r.ClientKeyID,
			Comment:     comment,
			Role:        r.Role,
			AccessedAt:  r.AccessedAt,
			Current:     r.ClientKeyID == own.ClientKeyID,
		})
	}
	return out, nil
}

// UpdateComment replaces the comment of a client key of the form.
func (s *Session) UpdateComment(ctx context.Context, id ClientKeyID, comment string) error {
	kp, tok, err := s.unlocked(ctx)
	if err != nil {
		return err
	}
	defer kp.Private.Wipe()

	sealed, err := crypto.SealKeyComment(comment, kp.Public)
	if err != nil {
		return err
	}
	k := link.Key{FormID: s.Key().FormID, ClientKeyID: id}
	if err := s.client.apiClient.PatchKey(ctx, tok.Raw, k, api.KeyUpdate{EncryptedComment: sealed}); err != nil {
		s.authFailed(err)
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

// DeleteKey revokes a client key of the form. Its secret link stops
// working. Deleting the session's own key also locks the session.
func (s *Session) DeleteKey(ctx context.Context, id ClientKeyID) error {
	tok, err := s.AccessToken(ctx)
	if err != nil {
		return err
	}

	own := s.Key()
	k := link.Key{FormID: own.FormID, ClientKeyID: id}
	if err := s.client.apiClient.DeleteKey(ctx, tok.Raw, k); err != nil {
		s.authFailed(err)
		return fmt.Errorf("delete key: %w", err)
	}
	if id == own.ClientKeyID {
		s.Lock()
	}
	level.Info(s.logger).Log("msg", "secret link revoked", "revoked_key", id)
	return nil
}

// Protect sets a password on the session's own link, replacing any
// previous one. It returns the link to hand out from now on: its fragment
// carries the protected key instead of the raw one. The session stays
// unlocked.
func (s *Session) Protect(ctx context.Context, password string) (SecretLink, error) {
	if password == "" {
		return SecretLink{}, fmt.Errorf("protect: %w", ErrPasswordRequired)
	}

	secret, err := s.secretLinkKey(ctx)
	if err != nil {
		return SecretLink{}, err
	}
	defer secret.Wipe()
	tok, err := s.AccessToken(ctx)
	if err != nil {
		return SecretLink{}, err
	}

	k := s.Key()
	protected, err := s.client.protect(ctx, tok, k, secret, password)
	if err != nil {
		s.authFailed(err)
		return SecretLink{}, err
	}

	s.mu.Lock()
	s.link.KeyBytes = protected
	s.mu.Unlock()
	s.protected.Store(state.Of(true))

	if err := s.Unlock(ctx, password); err != nil {
		return SecretLink{}, err
	}
	return s.Link(), nil
}

// EditForm changes the public part of the form.
func (s *Session) EditForm(ctx context.Context, edit FormEdit) error {
	if err := validateStruct(&edit); err != nil {
		return err
	}
	tok, err := s.AccessToken(ctx)
	if err != nil {
		return err
	}
	err = s.client.apiClient.PatchForm(ctx, tok.Raw, s.Key().FormID, api.FormUpdate{
		OrgName:        edit.OrgName,
		Description:    edit.Description,
		ContactMethods: edit.ContactMethods,
		ExpiresAt:      edit.ExpiresAt,
	})
	if err != nil {
		s.authFailed(err)
		return fmt.Errorf("edit form: %w", err)
	}
	return nil
}

// DeleteForm deletes the form with every submission and key. The session
// is locked afterwards.
func (s *Session) DeleteForm(ctx context.Context) error {
	tok, err := s.AccessToken(ctx)
	if err != nil {
		return err
	}
	if err := s.client.apiClient.DeleteForm(ctx, tok.Raw, s.Key().FormID); err != nil {
		s.authFailed(err)
		return fmt.Errorf("delete form: %w", err)
	}
	s.Lock()
	level.Info(s.logger).Log("msg", "form deleted")
	return nil
}
