package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"

	"github.com/notwithouthelp/client-go/internal/api"
	"github.com/notwithouthelp/client-go/internal/link"
)

// Fetcher lists the current encrypted submissions of one form. It is
// expected to carry its own authorization, typically by asking the session
// for a fresh access token on every call.
type Fetcher func(ctx context.Context) ([]api.Submission, error)

// FormInfo describes a form to watch.
type FormInfo struct {
	FormID link.FormID
	Fetch  Fetcher
}

// Event announces one submission not seen before.
type Event struct {
	FormID     link.FormID
	Submission api.Submission
	// Fingerprint identifies the submission within the watch.
	Fingerprint uint64
}

// ErrSkip marks a submission that can never be handled. A handler error
// wrapping it records the submission as seen.
var ErrSkip = errors.New("submission skipped")

// EventHandler is invoked for each submission not handled yet. An error is
// logged and does not stop the watch. Unless it wraps [ErrSkip], the same
// submission is offered again on the next poll.
type EventHandler func(ctx context.Context, event *Event) error

// Strategy defines the interface for submission delivery mechanisms.
//
// The typical lifecycle is:
//  1. Create a strategy with NewPollingStrategy(cfg)
//  2. Call Start(ctx, forms, handler) to begin receiving events
//  3. Optionally call AddForm/RemoveForm to modify the watched forms
//  4. Call Stop() when done to release resources
//
// Implementations are safe for concurrent use.
type Strategy interface {
	// Start begins watching the given forms. It returns immediately;
	// event delivery is asynchronous.
	Start(ctx context.Context, forms []FormInfo, handler EventHandler) error

	// Stop shuts down the strategy. After Stop returns, no more events
	// are delivered. Stop is idempotent.
	Stop() error

	// AddForm adds a form to watch.
	AddForm(form FormInfo) error

	// RemoveForm stops watching a form.
	RemoveForm(formID link.FormID) error

	// Name returns the strategy name for logging.
	Name() string
}

// Config holds configuration shared by delivery strategies.
type Config struct {
	// PollingInitialInterval is the starting interval between polls.
	// If zero, defaults to DefaultPollingInitialInterval.
	PollingInitialInterval time.Duration

	// PollingMaxBackoff is the maximum interval between polls.
	// If zero, defaults to DefaultPollingMaxBackoff.
	PollingMaxBackoff time.Duration

	// PollingBackoffMultiplier is the factor by which the interval
	// increases after each poll with no changes.
	// If zero, defaults to DefaultPollingBackoffMultiplier.
	PollingBackoffMultiplier float64

	// PollingJitterFactor is the maximum random jitter added to
	// poll intervals (as a fraction of the interval).
	// If zero, defaults to DefaultPollingJitterFactor.
	PollingJitterFactor float64

	// SkipExisting marks the submissions present at the first poll as
	// seen without delivering them.
	SkipExisting bool

	// Logger receives poll failures. Nil discards them.
	Logger log.Logger
}

// Default polling configuration values.
const (
	DefaultPollingInitialInterval   = 5 * time.Second
	DefaultPollingMaxBackoff        = time.Minute
	DefaultPollingBackoffMultiplier = 1.5
	DefaultPollingJitterFactor      = 0.3
)

func (c Config) withDefaults() Config {
	if c.PollingInitialInterval <= 0 {
		c.PollingInitialInterval = DefaultPollingInitialInterval
	}
	if c.PollingMaxBackoff <= 0 {
		c.PollingMaxBackoff = DefaultPollingMaxBackoff
	}
	if c.PollingMaxBackoff < c.PollingInitialInterval {
		c.PollingMaxBackoff = c.PollingInitialInterval
	}
	if c.PollingBackoffMultiplier <= 0 {
		c.PollingBackoffMultiplier = DefaultPollingBackoffMultiplier
	}
	if c.PollingJitterFactor <= 0 {
		c.PollingJitterFactor = DefaultPollingJitterFactor
	}
	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}
	return c
}
