package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/notwithouthelp/client-go/internal/clock"
	"github.com/notwithouthelp/client-go/internal/link"
)

var (
	keyA = link.Key{FormID: "form", ClientKeyID: "1"}
	keyB = link.Key{FormID: "form", ClientKeyID: "2"}
	keyC = link.Key{FormID: "other", ClientKeyID: "1"}
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) hook(k link.Key, v string, reason EvictReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, k.String()+"="+v+":"+reason.String())
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStore_SetGetDelete(t *testing.T) {
	rec := &recorder{}
	s := New(WithOnEvict(rec.hook))

	if _, ok := s.Get(keyA); ok {
		t.Fatal("Get() on empty store should miss")
	}
	s.Set(keyA, "a")
	s.Set(keyB, "b")

	if v, ok := s.Get(keyA); !ok || v != "a" {
		t.Errorf("Get(keyA) = %q, %v", v, ok)
	}
	if !s.Delete(keyA) {
		t.Error("Delete(keyA) = false, want true")
	}
	if s.Delete(keyA) {
		t.Error("second Delete(keyA) = true, want false")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if want := []string{"form/1=a:removed"}; !equal(rec.list(), want) {
		t.Errorf("evictions = %v, want %v", rec.list(), want)
	}
}

func TestStore_ReplaceReportsOldValue(t *testing.T) {
	rec := &recorder{}
	s := New(WithOnEvict(rec.hook))

	s.Set(keyA, "old")
	s.Set(keyA, "new")

	if v, _ := s.Get(keyA); v != "new" {
		t.Errorf("Get() = %q, want new", v)
	}
	if want := []string{"form/1=old:removed"}; !equal(rec.list(), want) {
		t.Errorf("evictions = %v, want %v", rec.list(), want)
	}
}

func TestStore_TimerExpiresUntouchedEntries(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := New(WithTTL[string](15*time.Second), WithClock[string](fc), WithOnEvict(rec.hook))

	s.Set(keyA, "a")
	s.SetWithTTL(keyB, "b", 0)

	fc.Advance(14 * time.Second)
	if _, ok := s.Get(keyA); !ok {
		t.Fatal("entry should survive until its TTL")
	}

	fc.Advance(time.Second)
	if want := []string{"form/1=a:expired"}; !equal(rec.list(), want) {
		t.Errorf("evictions = %v, want %v", rec.list(), want)
	}
	if _, ok := s.Get(keyB); !ok {
		t.Error("entry without TTL should never expire")
	}
}

func TestStore_TouchRestartsTTL(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := New(WithTTL[string](15*time.Second), WithClock[string](fc), WithOnEvict(rec.hook))

	s.Set(keyA, "a")
	fc.Advance(10 * time.Second)
	if !s.Touch(keyA) {
		t.Fatal("Touch() = false, want true")
	}
	fc.Advance(10 * time.Second)
	if _, ok := s.Get(keyA); !ok {
		t.Fatal("touched entry should still be present")
	}
	fc.Advance(5 * time.Second)
	if _, ok := s.Get(keyA); ok {
		t.Fatal("entry should expire 15s after the last touch")
	}
	if len(rec.list()) != 1 {
		t.Errorf("evictions = %v, want exactly one", rec.list())
	}
	if s.Touch(keyA) {
		t.Error("Touch() on a missing entry = true, want false")
	}
}

func TestStore_LazyExpiryOnRead(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	s := New(WithTTL[string](time.Second), WithClock[string](fc))
	s.Set(keyA, "a")

	// Timers are bypassed: only the clock reading moves.
	s.mu.Lock()
	v, _ := s.entries.Get(keyA)
	v.(*item[string]).expiresAt = fc.Now()
	s.mu.Unlock()

	if _, ok := s.Get(keyA); ok {
		t.Error("Get() should treat an entry at its deadline as expired")
	}
}

func TestStore_MaxEntries(t *testing.T) {
	rec := &recorder{}
	s := New(WithMaxEntries[string](2), WithOnEvict(rec.hook))

	s.Set(keyA, "a")
	s.Set(keyB, "b")
	s.Get(keyA)
	s.Set(keyC, "c")

	if _, ok := s.Get(keyB); ok {
		t.Error("least recently used entry should be evicted")
	}
	if want := []string{"form/2=b:capacity"}; !equal(rec.list(), want) {
		t.Errorf("evictions = %v, want %v", rec.list(), want)
	}
}

func TestStore_Clear(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := New(WithTTL[string](time.Minute), WithClock[string](fc), WithOnEvict(rec.hook))

	s.Set(keyA, "a")
	s.Set(keyB, "b")
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if len(rec.list()) != 2 {
		t.Errorf("evictions = %v, want 2", rec.list())
	}
	if fc.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", fc.Pending())
	}

	s.Set(keyA, "again")
	if v, ok := s.Get(keyA); !ok || v != "again" {
		t.Error("store should be usable after Clear")
	}
}

func TestStore_HookMayReenterStore(t *testing.T) {
	var s *Store[string]
	s = New(WithOnEvict(func(k link.Key, v string, _ EvictReason) {
		s.Len()
	}))
	s.Set(keyA, "a")
	s.Delete(keyA)
}
