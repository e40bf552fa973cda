package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"taskbot/internal/task/engine"
	logx "taskbot/pkg/logx"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Service, *ManualClock) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2, QueueSize: 16}, logx.Nop(), nil)
	eng.Start(context.Background())
	clk := NewManualClock(t0)
	s := New(Config{Enabled: true}, eng, clk, logx.Nop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, clk
}

func recorder() (Action, <-chan string, *int32) {
	ch := make(chan string, 16)
	var n int32
	return func(_ context.Context, key string) error {
		atomic.AddInt32(&n, 1)
		ch <- key
		return nil
	}, ch, &n
}

func expectFire(t *testing.T, ch <-chan string, key string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != key {
			t.Fatalf("fired %q, want %q", got, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job %q did not fire", key)
	}
}

func expectNoFire(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected firing of %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestArmFiresOnceAtFireTime(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	s.Start(context.Background())
	action, ch, n := recorder()

	if err := s.Arm("event:1", t0.Add(60*time.Second), action); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	clk.Advance(59 * time.Second)
	expectNoFire(t, ch)

	clk.Advance(time.Second)
	expectFire(t, ch, "event:1")
	if _, ok := s.Armed("event:1"); ok {
		t.Fatal("fired job still armed")
	}

	clk.Advance(time.Hour)
	expectNoFire(t, ch)
	if got := atomic.LoadInt32(n); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestArmInPastFiresImmediately(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	s.Start(context.Background())
	action, ch, _ := recorder()

	if err := s.Arm("event:2", t0.Add(-time.Hour), action); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	expectFire(t, ch, "event:2")
}

func TestDisarmPreventsFiring(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	s.Start(context.Background())
	action, ch, _ := recorder()

	_ = s.Arm("event:3", t0.Add(time.Minute), action)
	if err := s.Disarm("event:3"); err != nil {
		t.Fatalf("Disarm: %v", err)
	}
	clk.Advance(2 * time.Minute)
	expectNoFire(t, ch)

	if err := s.Disarm("event:3"); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("second Disarm err = %v, want ErrNotArmed", err)
	}
}

func TestRearmMovesFireTime(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	s.Start(context.Background())
	action, ch, _ := recorder()

	_ = s.Arm("event:4", t0.Add(time.Minute), action)
	if err := s.Rearm("event:4", t0.Add(10*time.Minute)); err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	at, ok := s.Armed("event:4")
	if !ok || !at.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("Armed = %v %v", at, ok)
	}

	clk.Advance(5 * time.Minute)
	expectNoFire(t, ch)
	clk.Advance(5 * time.Minute)
	expectFire(t, ch, "event:4")

	if err := s.Rearm("missing", t0); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("Rearm unknown err = %v, want ErrNotArmed", err)
	}
}

func TestArmUpsertReplacesTimer(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	s.Start(context.Background())
	action, ch, n := recorder()

	_ = s.Arm("recurring:x", t0.Add(time.Minute), action)
	_ = s.Arm("recurring:x", t0.Add(2*time.Minute), action)
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	clk.Advance(3 * time.Minute)
	expectFire(t, ch, "recurring:x")
	expectNoFire(t, ch)
	if got := atomic.LoadInt32(n); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestArmBeforeStartFiresAfterStart(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	action, ch, _ := recorder()

	_ = s.Arm("event:5", t0.Add(time.Minute), action)
	clk.Advance(2 * time.Minute)
	expectNoFire(t, ch)
	if _, ok := s.Armed("event:5"); !ok {
		t.Fatal("definition lost before Start")
	}

	s.Start(context.Background())
	expectFire(t, ch, "event:5")
}

func TestStopKeepsDefinitions(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	s.Start(context.Background())
	action, ch, _ := recorder()

	_ = s.Arm("event:6", t0.Add(time.Minute), action)
	s.Stop(context.Background())
	clk.Advance(2 * time.Minute)
	expectNoFire(t, ch)
	if s.Len() != 1 {
		t.Fatalf("Len after Stop = %d, want 1", s.Len())
	}
}

func TestEntriesOrdered(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	action, _, _ := recorder()
	_ = s.Arm("b", t0.Add(time.Hour), action)
	_ = s.Arm("a", t0.Add(time.Hour), action)
	_ = s.Arm("c", t0.Add(time.Minute), action)

	got := s.Entries()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key != want[i] {
			t.Fatalf("entries[%d] = %s, want %s", i, got[i].Key, want[i])
		}
	}
}

func TestArmValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	action, _, _ := recorder()
	if err := s.Arm("", t0, action); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := s.Arm("k", time.Time{}, action); err == nil {
		t.Fatal("expected error for zero time")
	}
	if err := s.Arm("k", t0, nil); err == nil {
		t.Fatal("expected error for nil action")
	}
}

func TestMissedRunsWhenEngineRefuses(t *testing.T) {
	t.Parallel()
	clk := NewManualClock(t0)
	eng := engine.New(engine.Config{}, logx.Nop(), nil) // disabled: every Submit fails
	s := New(Config{Enabled: true}, eng, clk, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	action, ch, _ := recorder()
	missed := make(chan error, 1)
	err := s.Arm("recurring:image_post", t0.Add(time.Minute), action, OnMissed(func(key string, reason error) {
		if key != "recurring:image_post" {
			reason = errors.New("wrong key " + key)
		}
		missed <- reason
	}))
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	clk.Advance(time.Minute)

	select {
	case reason := <-missed:
		if !errors.Is(reason, engine.ErrDisabled) {
			t.Fatalf("reason = %v", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("missed hook not called")
	}
	expectNoFire(t, ch)
}
