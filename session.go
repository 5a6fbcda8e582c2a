package nwh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/notwithouthelp/client-go/internal/api"
	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
	"github.com/notwithouthelp/client-go/internal/state"
	"github.com/notwithouthelp/client-go/internal/token"
)

// Session is the view of one secret link. Every value it produces is
// acquired in a fixed order, each stage taking the previous one as input:
//
//	secret link key → derived keys → access token → private primary key → submissions
//
// A stage never runs past a dependency that is loading or failed. When the
// secret link key needs a password, later stages return ErrLocked joined
// with ErrPasswordRequired.
//
// The exposed secret link key and the access token live in the client's
// shared caches; the unwrapped private primary key lives in the session and
// is wiped whenever the secret link key is evicted.
type Session struct {
	client *Client
	logger log.Logger
	done   chan struct{}

	mu      sync.Mutex
	link    link.SecretLink
	primary *crypto.PrimaryKeypair
	closed  bool

	changes     *state.Notifier
	protected   *state.Cell[bool]
	secret      *state.Cell[bool]
	signing     *state.Cell[crypto.PublicSigningKey]
	token       *state.Cell[*token.AccessToken]
	primaryKey  *state.Cell[crypto.PublicPrimaryKey]
	submissions *state.Cell[[]Submission]
}

// SessionState is a snapshot of every stage of a session. It never holds
// secret key material.
type SessionState struct {
	Protected        Loadable[bool]
	SecretLinkKey    Loadable[bool]
	PublicSigningKey Loadable[PublicSigningKey]
	AccessToken      Loadable[*AccessToken]
	PublicPrimaryKey Loadable[PublicPrimaryKey]
	Submissions      Loadable[[]Submission]
}

func newSession(c *Client, sl link.SecretLink) *Session {
	n := state.NewNotifier()
	return &Session{
		client:      c,
		logger:      log.With(c.cfg.logger, "component", "session", "form", sl.FormID, "key", sl.ClientKeyID),
		done:        make(chan struct{}),
		link:        sl,
		changes:     n,
		protected:   state.NewCell[bool](n),
		secret:      state.NewCell[bool](n),
		signing:     state.NewCell[crypto.PublicSigningKey](n),
		token:       state.NewCell[*token.AccessToken](n),
		primaryKey:  state.NewCell[crypto.PublicPrimaryKey](n),
		submissions: state.NewCell[[]Submission](n),
	}
}

// Key returns the (form, client key) pair of the session.
func (s *Session) Key() LinkKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link.Key()
}

// Link returns the session's secret link. After Protect it carries the
// protected key.
func (s *Session) Link() SecretLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.link
	sl.KeyBytes = append([]byte(nil), s.link.KeyBytes...)
	return sl
}

func (s *Session) checkClosed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.client.checkClosed()
}

// blocked records a dependency failure on cell. A dependency waiting for a
// password leaves cell loading and is reported as ErrLocked.
func blocked[T any](cell *state.Cell[T], err error) error {
	if errors.Is(err, ErrPasswordRequired) {
		cell.Reset()
		if errors.Is(err, ErrLocked) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}
	cell.Store(state.Fail[T](err))
	return err
}

// IsProtected reports whether the link is password protected. The answer
// comes from the server's password parameters and is cached.
func (s *Session) IsProtected(ctx context.Context) (bool, error) {
	if err := s.checkClosed(); err != nil {
		return false, err
	}
	p, err := s.client.exposer.IsProtected(ctx, s.Key())
	s.protected.Store(state.From(p, err))
	return p, err
}

// Unlock exposes the secret link key. For a protected link password is
// required; a wrong one fails with ErrInvalidPassword, which also matches
// ErrDecryptionFailed. For an unprotected link password is ignored.
// Unlocking counts as activity.
func (s *Session) Unlock(ctx context.Context, password string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	secret, err := s.client.exposer.Expose(ctx, s.Link(), password)
	s.recordSecret(err)
	if err != nil {
		return err
	}
	secret.Wipe()
	return nil
}

// CheckPassword reports whether password opens the link without caching
// the exposed key. It returns nil for an unprotected link.
func (s *Session) CheckPassword(ctx context.Context, password string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.client.exposer.Validate(ctx, s.Link(), password)
}

// Touch records user activity, restarting the idle timeout of a protected
// link's exposed key. Only Touch and Unlock count as activity: background
// work such as WatchSubmissions never keeps a key alive.
func (s *Session) Touch() {
	s.client.exposer.Touch(s.Key())
}

func (s *Session) recordSecret(err error) {
	s.secret.Store(state.From(err == nil, err))
	if errors.Is(err, ErrPasswordRequired) || errors.Is(err, ErrInvalidPassword) {
		s.protected.Store(state.Of(true))
	}
}

// secretLinkKey is the first stage. A cached key is used as is; otherwise
// an unprotected link is exposed from its fragment and a protected one
// needs Unlock.
func (s *Session) secretLinkKey(ctx context.Context) (crypto.SecretLinkKey, error) {
	if err := s.checkClosed(); err != nil {
		return crypto.SecretLinkKey{}, err
	}
	k := s.Key()
	if secret, ok := s.client.exposer.Cached(k); ok {
		return secret, nil
	}
	secret, err := s.client.exposer.Expose(ctx, s.Link(), "")
	s.recordSecret(err)
	return secret, err
}

// DerivedKeys returns the wrapping key and signing keypair of the link.
// The caller should Wipe the result when done.
func (s *Session) DerivedKeys(ctx context.Context) (DerivedKeys, error) {
	secret, err := s.secretLinkKey(ctx)
	if err != nil {
		return DerivedKeys{}, blocked(s.signing, err)
	}
	defer secret.Wipe()

	keys := crypto.DeriveKeys(secret)
	s.signing.Store(state.Of(keys.PublicSigningKey))
	return keys, nil
}

// authorize runs the pipeline up to the access token.
func (s *Session) authorize(ctx context.Context) (crypto.DerivedKeys, *token.AccessToken, error) {
	keys, err := s.DerivedKeys(ctx)
	if err != nil {
		return crypto.DerivedKeys{}, nil, blocked(s.token, err)
	}

	tok, err := s.client.auth.Token(ctx, s.Key(), keys.PrivateSigningKey)
	if err != nil {
		keys.Wipe()
		s.token.Store(state.Fail[*token.AccessToken](err))
		return crypto.DerivedKeys{}, nil, err
	}
	s.token.Store(state.Of(tok))
	return keys, tok, nil
}

// AccessToken returns a usable access token, running the challenge-response
// flow when none is cached.
func (s *Session) AccessToken(ctx context.Context) (*AccessToken, error) {
	keys, tok, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}
	keys.Wipe()
	return tok, nil
}

// Role returns the role claim of the access token. It is advisory and
// meant for display.
func (s *Session) Role(ctx context.Context) (Role, error) {
	tok, err := s.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.Role, nil
}

// authFailed drops the cached token after the server rejected it.
func (s *Session) authFailed(err error) {
	if errors.Is(err, ErrUnauthorized) {
		s.client.auth.Invalidate(s.Key())
		s.token.Store(state.Fail[*token.AccessToken](err))
		level.Warn(s.logger).Log("msg", "access token rejected", "err", err)
	}
}

// unlocked runs the pipeline up to the primary keypair.
func (s *Session) unlocked(ctx context.Context) (crypto.PrimaryKeypair, *token.AccessToken, error) {
	keys, tok, err := s.authorize(ctx)
	if err != nil {
		return crypto.PrimaryKeypair{}, nil, blocked(s.primaryKey, err)
	}
	defer keys.Wipe()

	s.mu.Lock()
	if s.primary != nil {
		kp := *s.primary
		s.mu.Unlock()
		return kp, tok, nil
	}
	s.mu.Unlock()

	details, err := s.client.apiClient.GetKey(ctx, tok.Raw, s.Key())
	if err != nil {
		s.authFailed(err)
		s.primaryKey.Store(state.Fail[crypto.PublicPrimaryKey](err))
		return crypto.PrimaryKeypair{}, nil, err
	}
	if len(details.WrappedPrivatePrimaryKey) == 0 {
		s.primaryKey.Store(state.Fail[crypto.PublicPrimaryKey](ErrNoPrivateKey))
		return crypto.PrimaryKeypair{}, nil, ErrNoPrivateKey
	}

	priv, err := crypto.UnwrapPrivatePrimaryKey(details.WrappedPrivatePrimaryKey, keys.SecretWrappingKey)
	if err != nil {
		err = &DecryptionError{Stage: "private-key", Err: err}
		s.primaryKey.Store(state.Fail[crypto.PublicPrimaryKey](err))
		return crypto.PrimaryKeypair{}, nil, err
	}
	kp, err := priv.Keypair()
	priv.Wipe()
	if err != nil {
		s.primaryKey.Store(state.Fail[crypto.PublicPrimaryKey](err))
		return crypto.PrimaryKeypair{}, nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		kp.Private.Wipe()
		return crypto.PrimaryKeypair{}, nil, ErrSessionClosed
	}
	held := kp
	s.primary = &held
	s.mu.Unlock()

	s.primaryKey.Store(state.Of(kp.Public))
	return kp, tok, nil
}

// PrivatePrimaryKey returns the form's private primary key, unwrapped with
// the link's wrapping key. The caller should Wipe the result when done.
func (s *Session) PrivatePrimaryKey(ctx context.Context) (PrivatePrimaryKey, error) {
	kp, _, err := s.unlocked(ctx)
	if err != nil {
		return PrivatePrimaryKey{}, err
	}
	return kp.Private, nil
}

// Comment returns the comment of the session's own key record.
func (s *Session) Comment(ctx context.Context) (string, error) {
	kp, tok, err := s.unlocked(ctx)
	if err != nil {
		return "", err
	}
	defer kp.Private.Wipe()

	details, err := s.client.apiClient.GetKey(ctx, tok.Raw, s.Key())
	if err != nil {
		s.authFailed(err)
		return "", err
	}
	return openComment(details.EncryptedComment, kp)
}

func openComment(sealed crypto.EncryptedKeyComment, kp crypto.PrimaryKeypair) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	comment, err := crypto.UnsealKeyComment(sealed, kp.Public, kp.Private)
	if err != nil {
		return "", &DecryptionError{Stage: "comment", Err: err}
	}
	return comment, nil
}

// Submissions fetches and decrypts every submission of the form, oldest
// first. One submission that fails to decrypt or decode fails the call.
func (s *Session) Submissions(ctx context.Context) ([]Submission, error) {
	kp, tok, err := s.unlocked(ctx)
	if err != nil {
		return nil, blocked(s.submissions, err)
	}
	defer kp.Private.Wipe()

	list, err := s.client.apiClient.ListSubmissions(ctx, tok.Raw, s.Key().FormID)
	if err != nil {
		s.authFailed(err)
		s.submissions.Store(state.Fail[[]Submission](err))
		return nil, err
	}

	out := make([]Submission, 0, len(list))
	for i, enc := range list {
		sub, err := openSubmission(enc, kp)
		if err != nil {
			err = fmt.Errorf("submission %d: %w", i, err)
			s.submissions.Store(state.Fail[[]Submission](err))
			return nil, err
		}
		out = append(out, sub)
	}
	s.submissions.Store(state.Of(out))
	return out, nil
}

func openSubmission(enc api.Submission, kp crypto.PrimaryKeypair) (Submission, error) {
	plain, err := crypto.UnsealSubmissionBody(enc.EncryptedBody, kp.Public, kp.Private)
	if err != nil {
		return Submission{}, &DecryptionError{Stage: "submission", Err: err}
	}
	body, err := DecodeSubmissionBody(plain)
	if err != nil {
		return Submission{}, err
	}
	return Submission{Body: body, CreatedAt: enc.CreatedAt}, nil
}

// State returns a snapshot of every stage.
func (s *Session) State() SessionState {
	return SessionState{
		Protected:        s.protected.Load(),
		SecretLinkKey:    s.secret.Load(),
		PublicSigningKey: s.signing.Load(),
		AccessToken:      s.token.Load(),
		PublicPrimaryKey: s.primaryKey.Load(),
		Submissions:      s.submissions.Load(),
	}
}

// Changes returns a channel that receives a signal whenever a stage
// changes, and a function that ends the subscription. Signals coalesce;
// read State after each one. The channel is closed when the session closes.
func (s *Session) Changes() (<-chan struct{}, func()) {
	return s.changes.Subscribe()
}

// Lock forgets the exposed secret link key and everything derived from
// it. A protected link needs Unlock again.
func (s *Session) Lock() {
	k := s.Key()
	s.client.exposer.Forget(k)
	s.client.auth.Invalidate(k)
	s.wipe()
	s.secret.Reset()
	s.resetDownstream()
}

// wipe drops the unwrapped private primary key.
func (s *Session) wipe() {
	s.mu.Lock()
	if s.primary != nil {
		s.primary.Private.Wipe()
		s.primary = nil
	}
	s.mu.Unlock()
}

// resetDownstream returns every stage after the secret link key to loading.
func (s *Session) resetDownstream() {
	s.signing.Reset()
	s.token.Reset()
	s.primaryKey.Reset()
	s.submissions.Reset()
}

func (s *Session) tokenExpired() {
	level.Debug(s.logger).Log("msg", "access token expired")
	s.token.Reset()
}

func (s *Session) secretEvicted() {
	s.wipe()
	s.secret.Store(state.Fail[bool](fmt.Errorf("%w: %w", ErrIdleTimeout, ErrPasswordRequired)))
	s.resetDownstream()
}

// Close ends the session: it stops its watches, wipes the private primary
// key and closes the Changes channels. The client's shared caches keep the
// exposed key and token for other sessions of the same link until their
// timeouts or Client.Close.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wipe()
	s.client.unregister(s)
	s.changes.Close()
	return nil
}
