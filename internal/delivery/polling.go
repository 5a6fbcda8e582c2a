package delivery

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/notwithouthelp/client-go/internal/api"
	"github.com/notwithouthelp/client-go/internal/link"
)

// PollingStrategy watches forms by listing their submissions periodically.
// The interval backs off while nothing changes and resets when a new
// submission shows up.
type PollingStrategy struct {
	cfg    Config
	logger log.Logger

	mu      sync.RWMutex
	forms   map[link.FormID]*polledForm
	handler EventHandler
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

type polledForm struct {
	formID   link.FormID
	fetch    Fetcher
	seen     map[uint64]struct{}
	digest   uint64
	polled   bool
	// retry is set while a submission failed in the handler and has to be
	// offered again even if the listing did not change.
	retry    bool
	interval time.Duration
	nextPoll time.Time
}

// NewPollingStrategy creates a new polling strategy.
func NewPollingStrategy(cfg Config) *PollingStrategy {
	cfg = cfg.withDefaults()
	return &PollingStrategy{
		cfg:    cfg,
		logger: log.With(cfg.Logger, "component", "delivery", "strategy", "polling"),
		forms:  make(map[link.FormID]*polledForm),
	}
}

// Name returns the strategy name.
func (p *PollingStrategy) Name() string {
	return "polling"
}

// Start begins watching the given forms.
func (p *PollingStrategy) Start(ctx context.Context, forms []FormInfo, handler EventHandler) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.handler = handler
	for _, f := range forms {
		p.forms[f.FormID] = p.newPolledForm(f)
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.started = true
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.pollLoop(ctx)
	}()
	return nil
}

// Stop shuts down the strategy and waits for the poll loop to exit. It
// must not be called from the event handler.
func (p *PollingStrategy) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.started = false
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// AddForm adds a form to watch. It is polled on the next cycle.
func (p *PollingStrategy) AddForm(form FormInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forms[form.FormID] = p.newPolledForm(form)
	return nil
}

// RemoveForm stops watching a form.
func (p *PollingStrategy) RemoveForm(formID link.FormID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.forms, formID)
	return nil
}

func (p *PollingStrategy) newPolledForm(f FormInfo) *polledForm {
	return &polledForm{
		formID:   f.FormID,
		fetch:    f.Fetch,
		seen:     make(map[uint64]struct{}),
		interval: p.cfg.PollingInitialInterval,
	}
}

func (p *PollingStrategy) pollLoop(ctx context.Context) {
	for {
		wait := p.pollDue(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// pollDue polls every form whose next poll time has passed and returns how
// long to sleep until the next one is due.
func (p *PollingStrategy) pollDue(ctx context.Context) time.Duration {
	p.mu.RLock()
	forms := make([]*polledForm, 0, len(p.forms))
	for _, f := range p.forms {
		forms = append(forms, f)
	}
	p.mu.RUnlock()

	if len(forms) == 0 {
		return p.cfg.PollingInitialInterval
	}

	now := time.Now()
	for _, f := range forms {
		if ctx.Err() != nil {
			return 0
		}
		if now.Before(f.nextPoll) {
			continue
		}
		p.pollForm(ctx, f)
		f.nextPoll = time.Now().Add(p.waitDuration(f))
	}

	minWait := p.cfg.PollingMaxBackoff
	now = time.Now()
	for _, f := range forms {
		if wait := f.nextPoll.Sub(now); wait < minWait {
			minWait = wait
		}
	}
	if minWait < 0 {
		minWait = 0
	}
	return minWait
}

func (p *PollingStrategy) pollForm(ctx context.Context, f *polledForm) {
	if f.fetch == nil {
		return
	}

	subs, err := f.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			level.Warn(p.logger).Log("msg", "poll failed", "form", f.formID, "err", err)
		}
		p.backoff(f)
		return
	}

	fingerprints := make([]uint64, len(subs))
	digest := xxhash.New()
	for i, s := range subs {
		fingerprints[i] = Fingerprint(s)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], fingerprints[i])
		digest.Write(b[:])
	}
	sum := digest.Sum64()

	changed := !f.polled || sum != f.digest
	if !changed && !f.retry {
		p.backoff(f)
		return
	}
	first := !f.polled
	f.polled = true
	f.digest = sum

	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()

	delivered, failed := 0, 0
	for i, s := range subs {
		fp := fingerprints[i]
		if _, ok := f.seen[fp]; ok {
			continue
		}
		if (first && p.cfg.SkipExisting) || handler == nil {
			f.seen[fp] = struct{}{}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		err := handler(ctx, &Event{FormID: f.formID, Submission: s, Fingerprint: fp})
		switch {
		case err == nil:
			f.seen[fp] = struct{}{}
			delivered++
		case errors.Is(err, ErrSkip):
			f.seen[fp] = struct{}{}
			level.Warn(p.logger).Log("msg", "submission skipped", "form", f.formID, "err", err)
		default:
			failed++
			level.Warn(p.logger).Log("msg", "submission handler failed, will retry", "form", f.formID, "err", err)
		}
	}
	f.retry = failed > 0

	if changed || delivered > 0 {
		f.interval = p.cfg.PollingInitialInterval
	} else {
		p.backoff(f)
	}
}

func (p *PollingStrategy) backoff(f *polledForm) {
	next := time.Duration(float64(f.interval) * p.cfg.PollingBackoffMultiplier)
	if next > p.cfg.PollingMaxBackoff {
		next = p.cfg.PollingMaxBackoff
	}
	f.interval = next
}

func (p *PollingStrategy) waitDuration(f *polledForm) time.Duration {
	jitter := time.Duration(rand.Float64() * p.cfg.PollingJitterFactor * float64(f.interval))
	return f.interval + jitter
}

// Fingerprint identifies a submission by its ciphertext and creation time.
// Sealed boxes are randomized, so equal fingerprints mean the same stored
// submission.
func Fingerprint(s api.Submission) uint64 {
	d := xxhash.New()
	d.Write(s.EncryptedBody)
	d.WriteString(s.CreatedAt.UTC().Format(time.RFC3339Nano))
	return d.Sum64()
}
