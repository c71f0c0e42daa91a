package cooldown

import (
	"context"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSet(t *testing.T) (*Set, func(time.Time)) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := New(client)
	now := time.Now()
	s.now = func() time.Time { return now }
	return s, func(at time.Time) { now = at }
}

func TestCooldown_OpenAndExpire(t *testing.T) {
	ctx := context.Background()
	s, setNow := newTestSet(t)
	start := s.now()

	if err := s.Open(ctx, "acct-1", 10*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Open(ctx, "acct-2", 30*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}

	active, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	sort.Strings(active)
	if len(active) != 2 || active[0] != "acct-1" || active[1] != "acct-2" {
		t.Fatalf("expected both accounts active, got %v", active)
	}

	setNow(start.Add(11 * time.Second))
	active, err = s.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0] != "acct-2" {
		t.Fatalf("expected only acct-2 after 11s, got %v", active)
	}

	setNow(start.Add(31 * time.Second))
	active, err = s.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active cooldowns after 31s, got %v", active)
	}
}

func TestCooldown_ShorterWindowNeverTruncatesLonger(t *testing.T) {
	ctx := context.Background()
	s, setNow := newTestSet(t)
	start := s.now()

	if err := s.Open(ctx, "acct-1", time.Minute); err != nil {
		t.Fatalf("open: %v", err)
	}
	// A later, shorter throttle on the same account must not shrink the
	// window already in place.
	if err := s.Open(ctx, "acct-1", 5*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}

	setNow(start.Add(10 * time.Second))
	active, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0] != "acct-1" {
		t.Fatalf("expected acct-1 still cooling down, got %v", active)
	}

	remaining, err := s.Remaining(ctx, "acct-1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining < 49*time.Second || remaining > 50*time.Second {
		t.Fatalf("expected ~50s remaining, got %s", remaining)
	}
}

func TestCooldown_LongerWindowExtends(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSet(t)

	if err := s.Open(ctx, "acct-1", 5*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Open(ctx, "acct-1", time.Minute); err != nil {
		t.Fatalf("open: %v", err)
	}

	remaining, err := s.Remaining(ctx, "acct-1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining < 59*time.Second {
		t.Fatalf("expected window extended to ~60s, got %s", remaining)
	}
}

func TestCooldown_RemainingZeroWhenAbsent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSet(t)

	remaining, err := s.Remaining(ctx, "acct-unknown")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected zero for absent account, got %s", remaining)
	}
}

func TestWake_NotifyReachesListener(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWake(client)
	ch, stop := w.Listen(ctx)
	defer stop()

	// Subscription setup races with the first publish; retry until the
	// signal lands.
	deadline := time.After(2 * time.Second)
	for {
		if err := w.Notify(ctx); err != nil {
			t.Fatalf("notify: %v", err)
		}
		select {
		case <-ch:
			return
		case <-deadline:
			t.Fatalf("wake signal never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
