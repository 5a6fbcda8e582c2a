package api

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	retryMaxDelay   = 30 * time.Second
	retryMultiplier = 2.0
	retryJitter     = 0.2
)

// retryPolicy decides which failed requests resty repeats and how long it
// waits in between. Requests that are not idempotent are never repeated:
// a POST that timed out may still have created the form or submission.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     float64
	statuses   map[int]struct{}
}

func newRetryPolicy(cfg Config) *retryPolicy {
	p := &retryPolicy{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryDelay,
		maxDelay:   retryMaxDelay,
		multiplier: retryMultiplier,
		jitter:     retryJitter,
		statuses:   make(map[int]struct{}, len(cfg.RetryOn)),
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	for _, code := range cfg.RetryOn {
		p.statuses[code] = struct{}{}
	}
	return p
}

// install wires the policy into a resty client.
func (p *retryPolicy) install(rc *resty.Client) *resty.Client {
	return rc.
		SetRetryCount(p.maxRetries).
		SetRetryWaitTime(p.baseDelay).
		SetRetryMaxWaitTime(p.maxDelay).
		SetRetryAfter(p.after).
		AddRetryCondition(p.condition)
}

func (p *retryPolicy) retryable(statusCode int) bool {
	_, ok := p.statuses[statusCode]
	return ok
}

// condition is resty's retry condition. Transport errors are retried
// unless the caller gave up.
func (p *retryPolicy) condition(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || !isIdempotent(resp.Request.Method) {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return p.retryable(resp.StatusCode())
}

// after is resty's retry-after hook. Attempt counts from 1, so the first
// retry waits about baseDelay.
func (p *retryPolicy) after(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	attempt := 1
	if resp != nil && resp.Request != nil {
		attempt = resp.Request.Attempt
	}
	return p.backoff(attempt - 1), nil
}

// backoff returns baseDelay * multiplier^retry, capped at maxDelay, with
// ±jitter applied.
func (p *retryPolicy) backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := float64(p.baseDelay) * math.Pow(p.multiplier, float64(retry))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	if p.jitter > 0 {
		spread := delay * p.jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	return time.Duration(delay)
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}
