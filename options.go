package nwh

import (
	"net/http"
	"time"

	"github.com/go-kit/log"

	"github.com/notwithouthelp/client-go/internal/clock"
	"github.com/notwithouthelp/client-go/internal/linkkey"
	"github.com/notwithouthelp/client-go/internal/token"
)

const (
	defaultBaseURL = "https://api.notwithout.help"
	defaultOrigin  = "https://notwithout.help"
	defaultTimeout = 30 * time.Second
	defaultRetries = 3
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	baseURL    string
	origin     string
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	retryOn    []int
	logger     log.Logger
	clock      clock.Clock

	idleTimeout     time.Duration
	tokenExpirySkew time.Duration

	// Polling configuration
	pollingInitialInterval   time.Duration
	pollingMaxBackoff        time.Duration
	pollingBackoffMultiplier float64
	pollingJitterFactor      float64
}

// keyConfig holds configuration for issuing a secret link.
type keyConfig struct {
	role     Role
	comment  string
	password string
}

// watchConfig holds configuration for watching submissions.
type watchConfig struct {
	skipExisting bool
	buffer       int
}

// Option configures the client.
type Option func(*clientConfig)

// KeyOption configures a secret link issued with Session.AddKey.
type KeyOption func(*keyConfig)

// WatchOption configures Session.WatchSubmissions.
type WatchOption func(*watchConfig)

func defaultConfig() *clientConfig {
	return &clientConfig{
		baseURL:         defaultBaseURL,
		origin:          defaultOrigin,
		timeout:         defaultTimeout,
		retries:         defaultRetries,
		logger:          log.NewNopLogger(),
		clock:           clock.Real,
		idleTimeout:     linkkey.DefaultIdleTimeout,
		tokenExpirySkew: token.DefaultExpirySkew,
	}
}

// WithBaseURL sets the API base URL.
// Default: https://api.notwithout.help
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithOrigin sets the web app origin used to build shareable link URLs.
// Default: https://notwithout.help
func WithOrigin(origin string) Option {
	return func(c *clientConfig) {
		c.origin = origin
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request HTTP timeout.
// Default: 30 seconds
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for idempotent API calls.
// Default: 3
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
// Default: [408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// WithLogger sets the logger. Secrets, passwords and tokens are never logged.
// Default: a no-op logger
func WithLogger(logger log.Logger) Option {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIdleTimeout sets how long the exposed key of a password-protected
// link stays in memory without activity. After it fires the password must
// be entered again.
// Default: 15 seconds
func WithIdleTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.idleTimeout = d
	}
}

// WithTokenExpirySkew sets how long before its expiry an access token is
// refreshed.
// Default: 5 seconds
func WithTokenExpirySkew(d time.Duration) Option {
	return func(c *clientConfig) {
		c.tokenExpirySkew = d
	}
}

// WithPollingInitialInterval sets the initial interval between submission
// polls. The interval resets to this value whenever a new submission
// arrives.
// Default: 5 seconds
func WithPollingInitialInterval(interval time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingInitialInterval = interval
	}
}

// WithPollingMaxBackoff sets the maximum interval between polls.
// Default: 1 minute
func WithPollingMaxBackoff(backoff time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingMaxBackoff = backoff
	}
}

// WithPollingBackoffMultiplier sets the growth factor of the poll interval
// while nothing changes.
// Default: 1.5
func WithPollingBackoffMultiplier(multiplier float64) Option {
	return func(c *clientConfig) {
		c.pollingBackoffMultiplier = multiplier
	}
}

// WithPollingJitterFactor sets the random jitter added to poll intervals,
// as a fraction of the interval.
// Default: 0.3
func WithPollingJitterFactor(factor float64) Option {
	return func(c *clientConfig) {
		c.pollingJitterFactor = factor
	}
}

// withClock replaces the system clock. Used by tests.
func withClock(c clock.Clock) Option {
	return func(cfg *clientConfig) {
		cfg.clock = c
	}
}

// WithRole sets the role of an issued link.
// Default: RoleRead
func WithRole(role Role) KeyOption {
	return func(c *keyConfig) {
		c.role = role
	}
}

// WithComment attaches a comment to an issued link. The comment is sealed
// to the form's public primary key, so every holder of a link to the form
// can read it and the server cannot.
func WithComment(comment string) KeyOption {
	return func(c *keyConfig) {
		c.comment = comment
	}
}

// WithPassword protects an issued link with a password. The returned
// fragment then carries the encrypted key instead of the raw one.
func WithPassword(password string) KeyOption {
	return func(c *keyConfig) {
		c.password = password
	}
}

// WithSkipExisting marks the submissions present when the watch starts as
// already seen, so only later ones are delivered.
func WithSkipExisting() WatchOption {
	return func(c *watchConfig) {
		c.skipExisting = true
	}
}

// WithBuffer sets the capacity of the channel returned by
// WatchSubmissions.
// Default: 16
func WithBuffer(n int) WatchOption {
	return func(c *watchConfig) {
		c.buffer = n
	}
}
