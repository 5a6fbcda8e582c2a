package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/notwithouthelp/client-go/internal/apierrors"
)

// Error type aliases for backward compatibility.
type (
	APIError     = apierrors.APIError
	NetworkError = apierrors.NetworkError
)

const (
	// DefaultBaseURL is the production API.
	DefaultBaseURL = "https://api.notwithout.help"
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry budget used by New.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the base delay between retries.
	DefaultRetryDelay = time.Second

	requestIDHeader = "X-Request-ID"
)

// DefaultRetryOn lists the status codes retried by default.
var DefaultRetryOn = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Config configures a Client built with NewClient.
type Config struct {
	// BaseURL is the API root, e.g. https://api.notwithout.help. Required.
	BaseURL string
	// HTTPClient replaces the underlying HTTP client. Timeout is ignored when set.
	HTTPClient *http.Client
	// Timeout bounds each HTTP attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt. Zero disables retries.
	MaxRetries int
	// RetryDelay is the base backoff delay. Zero means DefaultRetryDelay.
	RetryDelay time.Duration
	// RetryOn lists retryable status codes. Nil means DefaultRetryOn.
	RetryOn []int
	// Logger receives request logs. Nil discards them.
	Logger log.Logger
}

// Client is the HTTP API client. Only idempotent requests are retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rest       *resty.Client
	retry      *retryPolicy
	logger     log.Logger
}

// Option configures the API client.
type Option func(*Config)

// WithBaseURL sets the base URL.
func WithBaseURL(u string) Option {
	return func(c *Config) { c.BaseURL = u }
}

// WithRetries sets the number of retries.
func WithRetries(retries int) Option {
	return func(c *Config) { c.MaxRetries = retries }
}

// WithRetryDelay sets the base retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryDelay = d }
}

// WithRetryOn sets the status codes that trigger a retry.
func WithRetryOn(codes []int) Option {
	return func(c *Config) { c.RetryOn = codes }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the request logger.
func WithLogger(l log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// New creates a client from functional options, starting from the
// production base URL and DefaultMaxRetries.
func New(opts ...Option) (*Client, error) {
	cfg := Config{
		BaseURL:    DefaultBaseURL,
		MaxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// NewClient creates a client from an explicit configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RetryOn == nil {
		cfg.RetryOn = DefaultRetryOn
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		retry:   newRetryPolicy(cfg),
		logger:  log.With(cfg.Logger, "component", "api"),
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c.SetHTTPClient(httpClient)

	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
	c.rest = c.newRestClient(hc)
}

func (c *Client) newRestClient(hc *http.Client) *resty.Client {
	rc := c.retry.install(resty.NewWithClient(hc).
		SetBaseURL(c.baseURL).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{c.logger}))

	rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(requestIDHeader) == "" {
			r.SetHeader(requestIDHeader, uuid.NewString())
		}
		return nil
	})
	rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		level.Debug(c.logger).Log(
			"msg", "api response",
			"method", resp.Request.Method,
			"url", resp.Request.URL,
			"status", resp.StatusCode(),
			"attempt", resp.Request.Attempt,
			"duration", resp.Time(),
			"request_id", resp.Request.Header.Get(requestIDHeader),
		)
		return nil
	})
	return rc
}

// Do performs an unauthenticated request. body is JSON-encoded when non-nil
// and the response is decoded into result when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, result interface{}) error {
	return c.do(ctx, "", method, path, body, result)
}

// DoWithToken performs a request carrying token as a bearer credential.
func (c *Client) DoWithToken(ctx context.Context, token, method, path string, body, result interface{}) error {
	if token == "" {
		return fmt.Errorf("%s %s: access token is required", method, path)
	}
	return c.do(ctx, token, method, path, body, result)
}

func (c *Client) do(ctx context.Context, token, method, path string, body, result interface{}) error {
	req := c.rest.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		level.Warn(c.logger).Log("msg", "request failed", "method", method, "path", path, "err", err)
		attempt := 0
		if resp != nil && resp.Request != nil {
			attempt = resp.Request.Attempt
		}
		return &apierrors.NetworkError{Err: err, URL: c.baseURL + path, Attempt: attempt}
	}

	if resp.IsError() {
		return parseErrorResponse(resp)
	}

	if result != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func parseErrorResponse(resp *resty.Response) error {
	requestID := resp.Header().Get(requestIDHeader)
	if requestID == "" && resp.Request != nil {
		requestID = resp.Request.Header.Get(requestIDHeader)
	}

	var errResp struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(resp.Body(), &errResp); err == nil && (errResp.Error != "" || errResp.Message != "") {
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
		if errResp.RequestID != "" {
			requestID = errResp.RequestID
		}
		return &apierrors.APIError{StatusCode: resp.StatusCode(), Message: msg, RequestID: requestID}
	}

	return &apierrors.APIError{
		StatusCode: resp.StatusCode(),
		Message:    string(resp.Body()),
		RequestID:  requestID,
	}
}

// restyLogger routes resty's internal messages to a go-kit logger.
type restyLogger struct {
	logger log.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	level.Error(l.logger).Log("msg", fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	level.Warn(l.logger).Log("msg", fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	level.Debug(l.logger).Log("msg", fmt.Sprintf(format, v...))
}
