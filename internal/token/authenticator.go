package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/singleflight"

	"github.com/notwithouthelp/client-go/internal/clock"
	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
)

// DefaultExpirySkew is how long before its embedded expiry a token stops
// being handed out, so that it is never presented after it expires.
const DefaultExpirySkew = 5 * time.Second

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("authenticator closed")

	// ErrSubjectMismatch is returned when the server issues a token for a
	// different key than the one that was challenged.
	ErrSubjectMismatch = errors.New("access token subject does not match the client key")

	// ErrTokenExpired is returned when the server issues a token that has
	// already expired by the local clock.
	ErrTokenExpired = errors.New("access token already expired")
)

// Exchanger performs the two network round trips of the challenge-response
// flow. *api.Client implements it.
type Exchanger interface {
	RequestChallenge(ctx context.Context, k link.Key) (string, error)
	RequestAccessToken(ctx context.Context, challenge string, sig crypto.ChallengeSignature) (string, error)
}

// State is the authentication state of one client key.
type State int

const (
	StateNoToken State = iota
	StateRequesting
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no-token"
	case StateRequesting:
		return "requesting"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(a *Authenticator) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithExpirySkew sets how early a token is considered expired.
func WithExpirySkew(d time.Duration) Option {
	return func(a *Authenticator) { a.skew = d }
}

// WithOnExpire registers a callback run when a cached token expires. It
// runs on the timer goroutine and must not block.
func WithOnExpire(f func(link.Key)) Option {
	return func(a *Authenticator) { a.onExpire = f }
}

// Authenticator exchanges possession of a signing key for access tokens
// and caches one token per client key. Concurrent requests for the same key
// share a single challenge-response round trip.
type Authenticator struct {
	exchanger Exchanger
	clock     clock.Clock
	logger    log.Logger
	skew      time.Duration
	onExpire  func(link.Key)
	// missed runs after a cache miss, before joining or starting a flight.
	missed func(link.Key)

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu      sync.Mutex
	entries map[link.Key]*entry
	closed  bool
}

type entry struct {
	state State
	token *AccessToken
	timer clock.Timer
	gen   uint64
}

// NewAuthenticator creates an Authenticator that talks to the server
// through ex.
func NewAuthenticator(ex Exchanger, opts ...Option) *Authenticator {
	a := &Authenticator{
		exchanger: ex,
		clock:     clock.Real,
		logger:    log.NewNopLogger(),
		skew:      DefaultExpirySkew,
		entries:   make(map[link.Key]*entry),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.With(a.logger, "component", "token")
	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a
}

// Token returns a usable access token for k, running the challenge-response
// flow with signingKey when no usable token is cached. The in-flight round
// trip keeps running if ctx is cancelled while other callers wait on it;
// Close aborts it.
func (a *Authenticator) Token(ctx context.Context, k link.Key, signingKey crypto.PrivateSigningKey) (*AccessToken, error) {
	if tok, ok := a.Cached(k); ok {
		return tok, nil
	}
	if a.missed != nil {
		a.missed(k)
	}

	ch := a.group.DoChan(k.String(), func() (interface{}, error) {
		return a.acquire(ctx, k, signingKey)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AccessToken), nil
	}
}

// Cached returns the cached token for k if it is still usable. A miss is
// not an error: the token is simply not available yet.
func (a *Authenticator) Cached(k link.Key) (*AccessToken, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[k]
	if !ok || e.state != StateAuthenticated || !e.token.Usable(a.clock.Now(), a.skew) {
		return nil, false
	}
	return e.token, true
}

// State returns the authentication state of k.
func (a *Authenticator) State(k link.Key) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[k]
	if !ok {
		return StateNoToken
	}
	if e.state == StateAuthenticated && !e.token.Usable(a.clock.Now(), a.skew) {
		return StateExpired
	}
	return e.state
}

// Invalidate drops the cached token for k, e.g. after the server rejected
// it. A round trip already in flight for k will not repopulate the cache.
func (a *Authenticator) Invalidate(k link.Key) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[k]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(a.entries, k)
	a.group.Forget(k.String())
}

// Close stops every expiry timer, drops all cached tokens and aborts
// in-flight round trips.
func (a *Authenticator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	for k, e := range a.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(a.entries, k)
	}
	a.mu.Unlock()
	a.cancel()
	return nil
}

func (a *Authenticator) acquire(ctx context.Context, k link.Key, signingKey crypto.PrivateSigningKey) (*AccessToken, error) {
	gen, cached, err := a.begin(k)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		// A flight that finished after this caller's cache miss already
		// stored a token.
		return cached, nil
	}

	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	tok, err := a.exchange(reqCtx, k, signingKey)
	if err != nil {
		a.fail(k, gen)
		level.Warn(a.logger).Log("msg", "authentication failed", "key", k, "err", err)
		return nil, err
	}

	if err := a.store(k, gen, tok); err != nil {
		return nil, err
	}
	level.Info(a.logger).Log("msg", "access token acquired", "key", k, "role", tok.Role, "expires_at", tok.ExpiresAt)
	return tok, nil
}

func (a *Authenticator) exchange(ctx context.Context, k link.Key, signingKey crypto.PrivateSigningKey) (*AccessToken, error) {
	challenge, err := a.exchanger.RequestChallenge(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("request challenge: %w", err)
	}
	nonce, err := ExtractNonce(challenge)
	if err != nil {
		return nil, fmt.Errorf("read challenge: %w", err)
	}

	sig := crypto.SignChallengeNonce(nonce, signingKey)
	raw, err := a.exchanger.RequestAccessToken(ctx, challenge, sig)
	if err != nil {
		return nil, fmt.Errorf("request access token: %w", err)
	}

	tok, err := ParseAccessToken(raw)
	if err != nil {
		return nil, fmt.Errorf("read access token: %w", err)
	}
	if tok.Key != k {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrSubjectMismatch, tok.Key, k)
	}
	if !a.clock.Now().Before(tok.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return tok, nil
}

// begin moves k to StateRequesting and returns the generation the result
// must match to be stored. If a usable token is cached by now, it returns
// that token instead and leaves the entry alone.
func (a *Authenticator) begin(k link.Key) (uint64, *AccessToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, nil, ErrClosed
	}
	e, ok := a.entries[k]
	if ok && e.state == StateAuthenticated && e.token.Usable(a.clock.Now(), a.skew) {
		return e.gen, e.token, nil
	}
	if !ok {
		e = &entry{}
		a.entries[k] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.state = StateRequesting
	e.token = nil
	return e.gen, nil, nil
}

func (a *Authenticator) fail(k link.Key, gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[k]; ok && e.gen == gen {
		delete(a.entries, k)
	}
}

func (a *Authenticator) store(k link.Key, gen uint64, tok *AccessToken) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	e, ok := a.entries[k]
	if !ok || e.gen != gen {
		// Invalidated while in flight. The token is still handed to the
		// callers that asked for it but is not cached.
		return nil
	}

	e.state = StateAuthenticated
	e.token = tok
	wait := tok.ExpiresAt.Sub(a.clock.Now()) - a.skew
	if wait < 0 {
		wait = 0
	}
	e.timer = a.clock.AfterFunc(wait, func() { a.expire(k, gen) })
	return nil
}

func (a *Authenticator) expire(k link.Key, gen uint64) {
	a.mu.Lock()
	e, ok := a.entries[k]
	if !ok || e.gen != gen || e.state != StateAuthenticated {
		a.mu.Unlock()
		return
	}
	e.state = StateExpired
	e.token = nil
	e.timer = nil
	onExpire := a.onExpire
	a.mu.Unlock()

	level.Info(a.logger).Log("msg", "access token expired", "key", k)
	if onExpire != nil {
		onExpire(k)
	}
}
