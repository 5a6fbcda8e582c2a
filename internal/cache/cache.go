// Package cache provides an explicitly constructed store keyed by client
// key, with optional per-entry expiry, a size bound and eviction hooks.
// It replaces module-level maps: each owner constructs its own Store and
// controls its lifetime.
package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/notwithouthelp/client-go/internal/clock"
	"github.com/notwithouthelp/client-go/internal/link"
)

// EvictReason tells an eviction hook why an entry left the store.
type EvictReason int

const (
	// Expired entries outlived their TTL without being touched.
	Expired EvictReason = iota
	// Removed entries were deleted or replaced by the owner.
	Removed
	// Capacity entries were pushed out by the size bound.
	Capacity
	// Cleared entries were dropped by Clear.
	Cleared
)

func (r EvictReason) String() string {
	switch r {
	case Expired:
		return "expired"
	case Removed:
		return "removed"
	case Capacity:
		return "capacity"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Option configures a Store.
type Option[V any] func(*Store[V])

// WithTTL sets the default lifetime of entries. Zero means entries never
// expire.
func WithTTL[V any](d time.Duration) Option[V] {
	return func(s *Store[V]) { s.ttl = d }
}

// WithMaxEntries bounds the store. Zero means unbounded.
func WithMaxEntries[V any](n int) Option[V] {
	return func(s *Store[V]) { s.maxEntries = n }
}

// WithClock replaces the system clock.
func WithClock[V any](c clock.Clock) Option[V] {
	return func(s *Store[V]) { s.clock = c }
}

// WithOnEvict registers a hook called after an entry leaves the store. It
// is called without the store lock held.
func WithOnEvict[V any](f func(k link.Key, v V, reason EvictReason)) Option[V] {
	return func(s *Store[V]) { s.onEvict = f }
}

// Store is a concurrency-safe map from link.Key to V. Expiry is enforced
// both lazily on read and by a timer, so an entry is evicted on time even
// when nothing reads it.
type Store[V any] struct {
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock
	onEvict    func(link.Key, V, EvictReason)

	mu      sync.Mutex
	entries *lru.Cache
	reason  EvictReason
	evicted []eviction[V]
}

type item[V any] struct {
	value     V
	ttl       time.Duration
	expiresAt time.Time
	timer     clock.Timer
	gen       uint64
}

type eviction[V any] struct {
	key    link.Key
	value  V
	reason EvictReason
}

// New creates an empty store.
func New[V any](opts ...Option[V]) *Store[V] {
	s := &Store[V]{clock: clock.Real}
	for _, opt := range opts {
		opt(s)
	}
	s.entries = lru.New(s.maxEntries)
	s.entries.OnEvicted = s.collect
	return s
}

// collect runs under s.mu from inside lru operations.
func (s *Store[V]) collect(key lru.Key, value interface{}) {
	it := value.(*item[V])
	if it.timer != nil {
		it.timer.Stop()
	}
	s.evicted = append(s.evicted, eviction[V]{key: key.(link.Key), value: it.value, reason: s.reason})
}

// unlock releases s.mu and then runs eviction hooks for entries removed
// while it was held.
func (s *Store[V]) unlock() {
	pending := s.evicted
	s.evicted = nil
	s.mu.Unlock()
	if s.onEvict == nil {
		return
	}
	for _, e := range pending {
		s.onEvict(e.key, e.value, e.reason)
	}
}

// Set stores v under k with the default TTL, replacing any previous value.
func (s *Store[V]) Set(k link.Key, v V) {
	s.SetWithTTL(k, v, s.ttl)
}

// SetWithTTL stores v under k with its own lifetime. Zero means no expiry.
func (s *Store[V]) SetWithTTL(k link.Key, v V, ttl time.Duration) {
	s.mu.Lock()
	defer s.unlock()

	var gen uint64
	if old, ok := s.entries.Get(k); ok {
		gen = old.(*item[V]).gen + 1
		s.reason = Removed
		s.entries.Remove(k)
	}

	it := &item[V]{value: v, ttl: ttl, gen: gen}
	s.schedule(k, it)
	s.reason = Capacity
	s.entries.Add(k, it)
}

func (s *Store[V]) schedule(k link.Key, it *item[V]) {
	if it.ttl <= 0 {
		return
	}
	it.expiresAt = s.clock.Now().Add(it.ttl)
	gen := it.gen
	it.timer = s.clock.AfterFunc(it.ttl, func() { s.expire(k, gen) })
}

func (s *Store[V]) expire(k link.Key, gen uint64) {
	s.mu.Lock()
	defer s.unlock()
	v, ok := s.entries.Get(k)
	if !ok {
		return
	}
	it := v.(*item[V])
	if it.gen != gen || s.clock.Now().Before(it.expiresAt) {
		return
	}
	s.reason = Expired
	s.entries.Remove(k)
}

// Get returns the value under k. An expired entry is evicted and reported
// as a miss.
func (s *Store[V]) Get(k link.Key) (V, bool) {
	s.mu.Lock()
	defer s.unlock()
	it, ok := s.lookup(k)
	if !ok {
		var zero V
		return zero, false
	}
	return it.value, true
}

func (s *Store[V]) lookup(k link.Key) (*item[V], bool) {
	v, ok := s.entries.Get(k)
	if !ok {
		return nil, false
	}
	it := v.(*item[V])
	if it.ttl > 0 && !s.clock.Now().Before(it.expiresAt) {
		s.reason = Expired
		s.entries.Remove(k)
		return nil, false
	}
	return it, true
}

// Touch restarts the TTL of the entry under k. It reports whether the entry
// was present.
func (s *Store[V]) Touch(k link.Key) bool {
	s.mu.Lock()
	defer s.unlock()
	it, ok := s.lookup(k)
	if !ok {
		return false
	}
	if it.ttl > 0 {
		if it.timer != nil {
			it.timer.Stop()
		}
		it.gen++
		s.schedule(k, it)
	}
	return true
}

// Delete removes the entry under k and reports whether it was present.
func (s *Store[V]) Delete(k link.Key) bool {
	s.mu.Lock()
	defer s.unlock()
	if _, ok := s.entries.Get(k); !ok {
		return false
	}
	s.reason = Removed
	s.entries.Remove(k)
	return true
}

// Len returns the number of entries, including expired ones not yet evicted.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Clear evicts every entry.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.unlock()
	s.reason = Cleared
	s.entries.Clear()
}
