// Package linkkey turns the key material carried by a secret link into a
// usable secret link key. A link is either unprotected, when the fragment
// carries the raw key, or password protected, when the server holds
// password parameters for it and the fragment carries the encrypted key.
//
// Exposed keys of protected links are evicted after a period without
// activity. Keys of unprotected links stay cached until forgotten.
package linkkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/singleflight"

	"github.com/notwithouthelp/client-go/internal/cache"
	"github.com/notwithouthelp/client-go/internal/clock"
	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
)

// DefaultIdleTimeout bounds how long an exposed protected key lives
// without activity.
const DefaultIdleTimeout = 15 * time.Second

var (
	// ErrPasswordRequired is returned when a protected link is exposed
	// without a password.
	ErrPasswordRequired = errors.New("password required")

	// ErrInvalidPassword is returned when a password does not open a
	// protected link. It also matches crypto.ErrDecryptionFailed: a wrong
	// password and a corrupted link are not told apart.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrIdleTimeout is returned instead of ErrPasswordRequired when the
	// password is needed again because the exposed key was evicted after
	// inactivity. It matches ErrPasswordRequired.
	ErrIdleTimeout = errors.New("secret link key evicted after inactivity")
)

// ParamsSource looks up the password parameters of a secret link. It
// returns nil, nil for an unprotected link. *api.Client implements it.
type ParamsSource interface {
	GetPasswordParams(ctx context.Context, k link.Key) (*crypto.PasswordParams, error)
}

// Option configures an Exposer.
type Option func(*Exposer)

// WithIdleTimeout sets the inactivity bound for protected keys.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Exposer) { e.idle = d }
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Exposer) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(e *Exposer) { e.logger = l }
}

// WithOnIdleTimeout registers a callback run after a protected key is
// evicted for inactivity. It must not block.
func WithOnIdleTimeout(f func(link.Key)) Option {
	return func(e *Exposer) { e.onIdle = f }
}

// Exposer owns the exposed-secret cache. Nothing else writes to it.
type Exposer struct {
	source ParamsSource
	idle   time.Duration
	clock  clock.Clock
	logger log.Logger
	onIdle func(link.Key)

	secrets *cache.Store[*crypto.SecretLinkKey]
	lookups singleflight.Group

	mu       sync.Mutex
	params   map[link.Key]*crypto.PasswordParams
	timedOut map[link.Key]bool
}

// NewExposer creates an Exposer that discovers protection through src.
func NewExposer(src ParamsSource, opts ...Option) *Exposer {
	e := &Exposer{
		source:   src,
		idle:     DefaultIdleTimeout,
		clock:    clock.Real,
		logger:   log.NewNopLogger(),
		params:   make(map[link.Key]*crypto.PasswordParams),
		timedOut: make(map[link.Key]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.With(e.logger, "component", "linkkey")
	e.secrets = cache.New(
		cache.WithClock[*crypto.SecretLinkKey](e.clock),
		cache.WithOnEvict(e.evicted),
	)
	return e
}

func (e *Exposer) evicted(k link.Key, secret *crypto.SecretLinkKey, reason cache.EvictReason) {
	secret.Wipe()
	if reason != cache.Expired {
		return
	}

	e.mu.Lock()
	e.timedOut[k] = true
	onIdle := e.onIdle
	e.mu.Unlock()

	level.Info(e.logger).Log("msg", "exposed secret link key evicted after inactivity", "key", k)
	if onIdle != nil {
		onIdle(k)
	}
}

// IsProtected reports whether the server holds password parameters for
// the link. The answer is cached for the lifetime of the Exposer.
func (e *Exposer) IsProtected(ctx context.Context, k link.Key) (bool, error) {
	params, err := e.passwordParams(ctx, k)
	if err != nil {
		return false, err
	}
	return params != nil, nil
}

func (e *Exposer) passwordParams(ctx context.Context, k link.Key) (*crypto.PasswordParams, error) {
	e.mu.Lock()
	params, ok := e.params[k]
	e.mu.Unlock()
	if ok {
		return params, nil
	}

	v, err, _ := e.lookups.Do(k.String(), func() (interface{}, error) {
		p, err := e.source.GetPasswordParams(ctx, k)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.params[k] = p
		e.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("look up password parameters: %w", err)
	}
	return v.(*crypto.PasswordParams), nil
}

// Expose returns the secret link key of sl. For a protected link the
// password is required unless the key is still cached; for an unprotected
// link it is ignored. A successful call counts as activity.
func (e *Exposer) Expose(ctx context.Context, sl link.SecretLink, password string) (crypto.SecretLinkKey, error) {
	k := sl.Key()
	if secret, ok := e.secrets.Get(k); ok {
		e.secrets.Touch(k)
		return *secret, nil
	}

	params, err := e.passwordParams(ctx, k)
	if err != nil {
		return crypto.SecretLinkKey{}, err
	}

	if params == nil {
		secret, err := crypto.SecretLinkKeyFromBytes(sl.KeyBytes)
		if err != nil {
			return crypto.SecretLinkKey{}, fmt.Errorf("%w: %v", link.ErrMalformedLink, err)
		}
		e.store(k, secret, 0)
		return secret, nil
	}

	if password == "" {
		e.mu.Lock()
		timedOut := e.timedOut[k]
		e.mu.Unlock()
		if timedOut {
			return crypto.SecretLinkKey{}, fmt.Errorf("%w: %w", ErrIdleTimeout, ErrPasswordRequired)
		}
		return crypto.SecretLinkKey{}, ErrPasswordRequired
	}

	secret, err := e.open(*params, sl, password)
	if err != nil {
		return crypto.SecretLinkKey{}, err
	}
	e.store(k, secret, e.idle)
	level.Debug(e.logger).Log("msg", "protected secret link key exposed", "key", k)
	return secret, nil
}

// Validate checks password against a protected link without caching the
// exposed key. It returns nil for an unprotected link.
func (e *Exposer) Validate(ctx context.Context, sl link.SecretLink, password string) error {
	params, err := e.passwordParams(ctx, sl.Key())
	if err != nil {
		return err
	}
	if params == nil {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	secret, err := e.open(*params, sl, password)
	secret.Wipe()
	return err
}

func (e *Exposer) open(params crypto.PasswordParams, sl link.SecretLink, password string) (crypto.SecretLinkKey, error) {
	secret, err := crypto.Expose(params, crypto.ProtectedSecretLinkKey(sl.KeyBytes), password)
	if err != nil {
		return crypto.SecretLinkKey{}, fmt.Errorf("%w: %w", ErrInvalidPassword, err)
	}
	return secret, nil
}

func (e *Exposer) store(k link.Key, secret crypto.SecretLinkKey, ttl time.Duration) {
	e.mu.Lock()
	delete(e.timedOut, k)
	e.mu.Unlock()
	e.secrets.SetWithTTL(k, &secret, ttl)
}

// Cached returns the exposed key of k if it is still cached. A miss means
// the key is not available yet.
func (e *Exposer) Cached(k link.Key) (crypto.SecretLinkKey, bool) {
	secret, ok := e.secrets.Get(k)
	if !ok {
		return crypto.SecretLinkKey{}, false
	}
	return *secret, true
}

// Touch records user activity for k, restarting its idle timeout.
func (e *Exposer) Touch(k link.Key) {
	e.secrets.Touch(k)
}

// Forget evicts the exposed key of k and the cached protection status.
func (e *Exposer) Forget(k link.Key) {
	e.secrets.Delete(k)
	e.mu.Lock()
	delete(e.params, k)
	delete(e.timedOut, k)
	e.mu.Unlock()
}

// MarkProtected records that k is now protected with params, e.g. right
// after the owner set a password, and drops the cached raw key.
func (e *Exposer) MarkProtected(k link.Key, params crypto.PasswordParams) {
	e.secrets.Delete(k)
	e.mu.Lock()
	e.params[k] = &params
	delete(e.timedOut, k)
	e.mu.Unlock()
}

// Close wipes and drops every exposed key.
func (e *Exposer) Close() error {
	e.secrets.Clear()
	return nil
}
