package locks_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskmill/internal/locks"
	"taskmill/internal/logging"
	"taskmill/internal/task"
	"taskmill/internal/testsupport"
)

func newManager(t *testing.T) *locks.Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return locks.NewManager(st, logging.Discard())
}

func TestTryClaimGrantsAndContinues(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	if err := mgr.TryClaim(ctx, 1, locks.ItemTask, 100); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	// Same user may continue an existing claim.
	if err := mgr.TryClaim(ctx, 1, locks.ItemTask, 100); err != nil {
		t.Fatalf("continuation claim failed: %v", err)
	}

	held, err := mgr.IsHeldBy(ctx, 1, locks.ItemTask, 100)
	if err != nil {
		t.Fatalf("IsHeldBy failed: %v", err)
	}
	if !held {
		t.Fatal("expected claim to be held by user 100")
	}
}

func TestTryClaimConflicts(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	if err := mgr.TryClaim(ctx, 1, locks.ItemTask, 100); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	err := mgr.TryClaim(ctx, 1, locks.ItemTask, 200)
	if !errors.Is(err, task.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}

	// The original holder is unchanged.
	lock, err := mgr.Holder(ctx, 1, locks.ItemTask)
	if err != nil {
		t.Fatalf("Holder failed: %v", err)
	}
	if lock == nil || lock.UserID != 100 {
		t.Fatalf("unexpected holder: %#v", lock)
	}
}

func TestConcurrentClaimExactlyOneWins(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			errs[slot] = mgr.TryClaim(ctx, 7, locks.ItemTask, int64(1000+slot))
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, err := range errs {
		if err == nil {
			granted++
		} else if !errors.Is(err, task.ErrLockConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if granted != 1 {
		t.Fatalf("expected exactly one grant, got %d", granted)
	}
}

func TestReleaseRequiresOwnership(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	if err := mgr.TryClaim(ctx, 3, locks.ItemTask, 100); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := mgr.Release(ctx, 3, locks.ItemTask, 200); err == nil {
		t.Fatal("expected release by non-owner to fail")
	}
	if err := mgr.Release(ctx, 3, locks.ItemTask, 100); err != nil {
		t.Fatalf("release by owner failed: %v", err)
	}
	if err := mgr.Release(ctx, 3, locks.ItemTask, 100); err == nil {
		t.Fatal("expected second release to fail")
	}
}

func TestSweepExpired(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	if err := mgr.TryClaim(ctx, 1, locks.ItemTask, 100); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := mgr.TryClaim(ctx, 2, locks.ItemTask, 100); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Nothing is older than a cutoff in the past.
	removed, err := mgr.SweepExpired(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected no removals, got %d", removed)
	}

	removed, err = mgr.SweepExpired(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected both locks swept, got %d", removed)
	}

	remaining, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty lock table, got %v", remaining)
	}
}
