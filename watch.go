package nwh

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/notwithouthelp/client-go/internal/api"
	"github.com/notwithouthelp/client-go/internal/delivery"
)

const defaultWatchBuffer = 16

// WatchSubmissions polls the form and delivers every submission not seen
// before, decrypted, on the returned channel. The pipeline must be
// unlocked when the watch starts; if the key is later evicted for
// inactivity, polls fail and are retried with backoff until Unlock is
// called again, and no submission is lost in between. A submission that
// cannot be decrypted or decoded is logged and skipped.
//
// The channel is closed when ctx is cancelled or the session closes.
func (s *Session) WatchSubmissions(ctx context.Context, opts ...WatchOption) (<-chan *Submission, error) {
	wc := &watchConfig{buffer: defaultWatchBuffer}
	for _, opt := range opts {
		opt(wc)
	}

	kp, _, err := s.unlocked(ctx)
	if err != nil {
		return nil, err
	}
	kp.Private.Wipe()

	cfg := s.client.cfg
	strategy := delivery.NewPollingStrategy(delivery.Config{
		PollingInitialInterval:   cfg.pollingInitialInterval,
		PollingMaxBackoff:        cfg.pollingMaxBackoff,
		PollingBackoffMultiplier: cfg.pollingBackoffMultiplier,
		PollingJitterFactor:      cfg.pollingJitterFactor,
		SkipExisting:             wc.skipExisting,
		Logger:                   s.logger,
	})

	ch := make(chan *Submission, wc.buffer)
	handler := func(ctx context.Context, ev *delivery.Event) error {
		sub, err := s.openWatched(ctx, ev.Submission)
		if err != nil {
			return err
		}
		select {
		case ch <- &sub:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	form := delivery.FormInfo{FormID: s.Key().FormID, Fetch: s.fetchEncrypted}
	if err := strategy.Start(ctx, []delivery.FormInfo{form}, handler); err != nil {
		return nil, err //coverage:ignore
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		_ = strategy.Stop()
		close(ch)
		level.Debug(s.logger).Log("msg", "submission watch stopped")
	}()

	return ch, nil
}

// fetchEncrypted lists the encrypted submissions through the pipeline.
func (s *Session) fetchEncrypted(ctx context.Context) ([]api.Submission, error) {
	kp, tok, err := s.unlocked(ctx)
	if err != nil {
		return nil, err
	}
	kp.Private.Wipe()
	list, err := s.client.apiClient.ListSubmissions(ctx, tok.Raw, s.Key().FormID)
	if err != nil {
		s.authFailed(err)
		return nil, err
	}
	return list, nil
}

func (s *Session) openWatched(ctx context.Context, enc api.Submission) (Submission, error) {
	kp, _, err := s.unlocked(ctx)
	if err != nil {
		return Submission{}, err
	}
	defer kp.Private.Wipe()
	sub, err := openSubmission(enc, kp)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %w", delivery.ErrSkip, err)
	}
	return sub, nil
}
