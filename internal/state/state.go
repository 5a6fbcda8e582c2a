// Package state models asynchronous results as explicit values. A
// Loadable is loading, done with a value, or failed with an error; Then
// chains stages so a stage never runs past a pending or failed dependency.
// Cells hold the current Loadable of a stage and announce changes through
// a Notifier so dependents know to recompute.
package state

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPending is returned by Get while a value is still loading.
var ErrPending = errors.New("value not available yet")

// Status is the state of a Loadable.
type Status int

const (
	Loading Status = iota
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Done:
		return "done"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Loadable is the result of an asynchronous stage. The zero value is
// loading.
type Loadable[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Pending returns a loading result.
func Pending[T any]() Loadable[T] {
	return Loadable[T]{Status: Loading}
}

// Of returns a done result.
func Of[T any](v T) Loadable[T] {
	return Loadable[T]{Status: Done, Value: v}
}

// Fail returns a failed result. A nil err is replaced with a generic error.
func Fail[T any](err error) Loadable[T] {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Loadable[T]{Status: Failed, Err: err}
}

// From turns a (value, error) pair into a done or failed result.
func From[T any](v T, err error) Loadable[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Of(v)
}

// Get returns the value, ErrPending while loading, or the failure.
func (l Loadable[T]) Get() (T, error) {
	switch l.Status {
	case Done:
		return l.Value, nil
	case Failed:
		var zero T
		return zero, l.Err
	default:
		var zero T
		return zero, ErrPending
	}
}

func (l Loadable[T]) String() string {
	if l.Status == Failed {
		return fmt.Sprintf("error(%v)", l.Err)
	}
	return l.Status.String()
}

// Then runs next on the value of l. A loading or failed l is passed
// through without calling next.
func Then[T, U any](l Loadable[T], next func(T) Loadable[U]) Loadable[U] {
	switch l.Status {
	case Done:
		return next(l.Value)
	case Failed:
		return Fail[U](l.Err)
	default:
		return Pending[U]()
	}
}

// Notifier broadcasts change signals to subscribers. Signals coalesce: a
// subscriber that has not consumed the previous signal receives no second
// one.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan struct{}
	next   int
	closed bool
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan struct{})}
}

// Subscribe returns a channel that receives a value after each change and
// a function that ends the subscription. The channel is closed when the
// subscription ends or the Notifier is closed.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan struct{}, 1)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.next
	n.next++
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
}

// Notify signals every subscriber without blocking.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close ends every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

// Cell holds the current result of one stage.
type Cell[T any] struct {
	mu       sync.RWMutex
	value    Loadable[T]
	version  uint64
	notifier *Notifier
}

// NewCell creates a loading cell that signals n on every change. n may be
// nil.
func NewCell[T any](n *Notifier) *Cell[T] {
	return &Cell[T]{notifier: n}
}

// Load returns the current result.
func (c *Cell[T]) Load() Loadable[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Version increases with every Store.
func (c *Cell[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Store replaces the result and signals the notifier.
func (c *Cell[T]) Store(l Loadable[T]) {
	c.mu.Lock()
	c.value = l
	c.version++
	c.mu.Unlock()
	if c.notifier != nil {
		c.notifier.Notify()
	}
}

// Reset returns the cell to loading.
func (c *Cell[T]) Reset() {
	c.Store(Pending[T]())
}
