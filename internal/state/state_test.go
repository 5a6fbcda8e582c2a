package state

import (
	"errors"
	"strconv"
	"testing"
)

func TestLoadable_Get(t *testing.T) {
	boom := errors.New("boom")

	if _, err := Pending[int]().Get(); !errors.Is(err, ErrPending) {
		t.Errorf("Pending.Get() error = %v, want ErrPending", err)
	}
	if v, err := Of(7).Get(); err != nil || v != 7 {
		t.Errorf("Of(7).Get() = %d, %v", v, err)
	}
	if _, err := Fail[int](boom).Get(); !errors.Is(err, boom) {
		t.Errorf("Fail.Get() error = %v, want boom", err)
	}
	if _, err := Fail[int](nil).Get(); err == nil {
		t.Error("Fail(nil).Get() should still fail")
	}

	var zero Loadable[string]
	if zero.Status != Loading {
		t.Errorf("zero Loadable status = %s, want loading", zero.Status)
	}
}

func TestFrom(t *testing.T) {
	if l := From(1, nil); l.Status != Done || l.Value != 1 {
		t.Errorf("From(1, nil) = %+v", l)
	}
	if l := From(1, errors.New("x")); l.Status != Failed {
		t.Errorf("From(1, err) = %+v", l)
	}
}

func TestThen_StopsAtPendingOrFailed(t *testing.T) {
	calls := 0
	next := func(v int) Loadable[string] {
		calls++
		return Of(strconv.Itoa(v))
	}

	if got := Then(Pending[int](), next); got.Status != Loading {
		t.Errorf("Then(pending) = %s, want loading", got)
	}
	boom := errors.New("boom")
	if got := Then(Fail[int](boom), next); got.Status != Failed || !errors.Is(got.Err, boom) {
		t.Errorf("Then(failed) = %s, want error(boom)", got)
	}
	if calls != 0 {
		t.Fatalf("next called %d times for a pending or failed dependency", calls)
	}

	if got := Then(Of(3), next); got.Status != Done || got.Value != "3" {
		t.Errorf("Then(done) = %+v", got)
	}
}

func TestNotifier_CoalescesSignals(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe()
	defer cancel()

	n.Notify()
	n.Notify()

	select {
	case <-ch:
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestNotifier_CancelAndClose(t *testing.T) {
	n := NewNotifier()
	a, cancelA := n.Subscribe()
	b, _ := n.Subscribe()

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Error("cancelled subscription channel should be closed")
	}

	n.Close()
	if _, ok := <-b; ok {
		t.Error("Close() should close remaining subscriptions")
	}

	c, _ := n.Subscribe()
	if _, ok := <-c; ok {
		t.Error("Subscribe() after Close() should return a closed channel")
	}
	n.Notify()
}

func TestCell(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe()
	defer cancel()

	c := NewCell[int](n)
	if c.Load().Status != Loading || c.Version() != 0 {
		t.Fatalf("new cell = %s v%d", c.Load(), c.Version())
	}

	c.Store(Of(5))
	<-ch
	if v, err := c.Load().Get(); err != nil || v != 5 {
		t.Errorf("Load() = %d, %v", v, err)
	}

	c.Reset()
	<-ch
	if c.Load().Status != Loading || c.Version() != 2 {
		t.Errorf("after Reset = %s v%d", c.Load(), c.Version())
	}
}
