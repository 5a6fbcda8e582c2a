package nwh

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/notwithouthelp/client-go/internal/api"
	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
	"github.com/notwithouthelp/client-go/internal/linkkey"
	"github.com/notwithouthelp/client-go/internal/token"
)

// defaultAdminComment labels the organizer's own link when none is given.
const defaultAdminComment = "Original link"

// Client talks to the notwithout.help API. It owns the process-wide
// session state: the access-token cache and the exposed-secret cache, both
// keyed by (form, client key) and shared by every Session it opens. Close
// clears both.
type Client struct {
	apiClient *api.Client
	auth      *token.Authenticator
	exposer   *linkkey.Exposer
	cfg       *clientConfig
	logger    log.Logger

	mu       sync.RWMutex
	sessions map[link.Key]map[*Session]struct{}
	closed   bool
}

// buildAPIClient creates and configures an API client from the given config.
func buildAPIClient(cfg *clientConfig) (*api.Client, error) {
	apiOpts := []api.Option{
		api.WithBaseURL(cfg.baseURL),
		api.WithRetries(cfg.retries),
		api.WithLogger(cfg.logger),
	}
	if cfg.timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.timeout))
	}
	if len(cfg.retryOn) > 0 {
		apiOpts = append(apiOpts, api.WithRetryOn(cfg.retryOn))
	}
	if cfg.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(cfg.httpClient))
	}
	return api.New(apiOpts...)
}

// New creates a client. No request is made until a method needs one.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	apiClient, err := buildAPIClient(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		apiClient: apiClient,
		cfg:       cfg,
		logger:    log.With(cfg.logger, "component", "client"),
		sessions:  make(map[link.Key]map[*Session]struct{}),
	}
	c.auth = token.NewAuthenticator(apiClient,
		token.WithClock(cfg.clock),
		token.WithLogger(cfg.logger),
		token.WithExpirySkew(cfg.tokenExpirySkew),
		token.WithOnExpire(c.tokenExpired),
	)
	c.exposer = linkkey.NewExposer(apiClient,
		linkkey.WithClock(cfg.clock),
		linkkey.WithLogger(cfg.logger),
		linkkey.WithIdleTimeout(cfg.idleTimeout),
		linkkey.WithOnIdleTimeout(c.secretEvicted),
	)
	return c, nil
}

// checkClosed returns ErrClientClosed if the client has been closed.
func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// SecretURL returns the full URL of a secret link under the configured
// web app origin.
func (c *Client) SecretURL(sl SecretLink) string {
	return sl.URL(c.cfg.origin)
}

// ShareURL returns the full URL of a share link under the configured web
// app origin.
func (c *Client) ShareURL(sh ShareLink) string {
	return sh.URL(c.cfg.origin)
}

// PublishForm creates a form and its organizer link. It generates the
// link's secret and the form's primary keypair, publishes the public
// halves, then authenticates as the new admin key to upload the private
// primary key wrapped under the link's wrapping key. WithComment and
// WithPassword apply; the role of the first key is always admin.
func (c *Client) PublishForm(ctx context.Context, tmpl FormTemplate, opts ...KeyOption) (*PublishedForm, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if err := validateStruct(&tmpl); err != nil {
		return nil, err
	}

	kc := &keyConfig{comment: defaultAdminComment}
	for _, opt := range opts {
		opt(kc)
	}

	secret, err := crypto.GenerateSecretLinkKey()
	if err != nil {
		return nil, fmt.Errorf("generate secret link key: %w", err)
	}
	defer secret.Wipe()
	primary, err := crypto.GeneratePrimaryKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate primary keypair: %w", err)
	}
	defer primary.Private.Wipe()
	keys := crypto.DeriveKeys(secret)
	defer keys.Wipe()

	k, err := c.apiClient.PostForm(ctx, api.NewForm{
		PublicPrimaryKey: primary.Public,
		PublicSigningKey: keys.PublicSigningKey,
		OrgName:          tmpl.OrgName,
		Description:      tmpl.Description,
		ContactMethods:   tmpl.ContactMethods,
		ExpiresAt:        tmpl.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("publish form: %w", err)
	}

	tok, err := c.auth.Token(ctx, k, keys.PrivateSigningKey)
	if err != nil {
		return nil, fmt.Errorf("authenticate new form key: %w", err)
	}

	wrapped, err := crypto.WrapPrivatePrimaryKey(primary.Private, keys.SecretWrappingKey)
	if err != nil {
		return nil, err
	}
	comment, err := crypto.SealKeyComment(kc.comment, primary.Public)
	if err != nil {
		return nil, err
	}
	if err := c.apiClient.PatchKey(ctx, tok.Raw, k, api.KeyUpdate{
		WrappedPrivatePrimaryKey: wrapped,
		EncryptedComment:         comment,
	}); err != nil {
		return nil, fmt.Errorf("upload wrapped private primary key: %w", err)
	}

	sl := link.SecretLink{FormID: k.FormID, ClientKeyID: k.ClientKeyID, KeyBytes: append([]byte(nil), secret[:]...)}
	published := &PublishedForm{
		SecretLink: sl,
		ShareLink:  link.ShareLink{FormID: k.FormID},
	}
	if kc.password != "" {
		protected, err := c.protect(ctx, tok, k, secret, kc.password)
		if err != nil {
			return nil, err
		}
		published.SecretLink.KeyBytes = protected
		published.Protected = true
	}

	level.Info(c.logger).Log("msg", "form published", "form", k.FormID, "key", k.ClientKeyID)
	return published, nil
}

// protect stores password parameters for k and returns the protected key
// bytes to put in its fragment.
func (c *Client) protect(ctx context.Context, tok *token.AccessToken, k link.Key, secret crypto.SecretLinkKey, password string) ([]byte, error) {
	params, protected, err := crypto.Protect(secret, password)
	if err != nil {
		return nil, fmt.Errorf("protect secret link key: %w", err)
	}
	if err := c.apiClient.PutPasswordParams(ctx, tok.Raw, k, params); err != nil {
		return nil, fmt.Errorf("store password parameters: %w", err)
	}
	c.exposer.MarkProtected(k, params)
	return protected, nil
}

// GetForm fetches the public part of a form.
func (c *Client) GetForm(ctx context.Context, formID FormID) (*Form, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	f, err := c.apiClient.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	return &Form{
		ID:               formID,
		OrgName:          f.OrgName,
		Description:      f.Description,
		ContactMethods:   f.ContactMethods,
		PublicPrimaryKey: f.PublicPrimaryKey,
	}, nil
}

// Submit seals body to the form's public primary key and stores it. The
// server never sees the plaintext.
func (c *Client) Submit(ctx context.Context, formID FormID, body SubmissionBody) error {
	form, err := c.GetForm(ctx, formID)
	if err != nil {
		return err
	}
	return c.SubmitTo(ctx, form, body)
}

// SubmitTo is Submit for a form already fetched with GetForm.
func (c *Client) SubmitTo(ctx context.Context, form *Form, body SubmissionBody) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	plain, err := EncodeSubmissionBody(body)
	if err != nil {
		return err
	}
	sealed, err := crypto.SealSubmissionBody(plain, form.PublicPrimaryKey)
	if err != nil {
		return err
	}
	if err := c.apiClient.PostSubmission(ctx, form.ID, sealed); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// OpenSecretLink parses a secret link fragment, or a URL containing one,
// and opens a session for it. Nothing is fetched until a session method
// needs it.
func (c *Client) OpenSecretLink(s string) (*Session, error) {
	sl, err := link.ParseSecretLink(s)
	if err != nil {
		return nil, err
	}
	return c.Open(sl)
}

// Open opens a session for a parsed secret link.
func (c *Client) Open(sl SecretLink) (*Session, error) {
	s := newSession(c, sl)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	k := sl.Key()
	if c.sessions[k] == nil {
		c.sessions[k] = make(map[*Session]struct{})
	}
	c.sessions[k][s] = struct{}{}
	return s, nil
}

// unregister removes a closed session.
func (c *Client) unregister(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := s.Key()
	if set, ok := c.sessions[k]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(c.sessions, k)
		}
	}
}

// sessionsFor returns the open sessions of k.
func (c *Client) sessionsFor(k link.Key) []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.sessions[k]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (c *Client) tokenExpired(k link.Key) {
	for _, s := range c.sessionsFor(k) {
		s.tokenExpired()
	}
}

func (c *Client) secretEvicted(k link.Key) {
	for _, s := range c.sessionsFor(k) {
		s.secretEvicted()
	}
}

// Close closes every session, stops token refresh timers and wipes every
// exposed secret link key. The client cannot be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var open []*Session
	for _, set := range c.sessions {
		for s := range set {
			open = append(open, s)
		}
	}
	c.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	if err := c.auth.Close(); err != nil {
		return err //coverage:ignore
	}
	return c.exposer.Close()
}
