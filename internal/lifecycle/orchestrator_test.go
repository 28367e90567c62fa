package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskmill/internal/bundle"
	"taskmill/internal/config"
	"taskmill/internal/events"
	"taskmill/internal/lifecycle"
	"taskmill/internal/locks"
	"taskmill/internal/logging"
	"taskmill/internal/review"
	"taskmill/internal/store"
	"taskmill/internal/task"
	"taskmill/internal/testsupport"
)

type fixture struct {
	orch  *lifecycle.Orchestrator
	store *store.Store
	locks *locks.Manager
	cfg   *config.Config
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.Discard()
	mgr := locks.NewManager(st, logger)
	orch := lifecycle.NewOrchestrator(st, cfg, mgr, nil, events.NewDispatcher(logger), logger)
	return &fixture{orch: orch, store: st, locks: mgr, cfg: cfg}
}

func boolPtr(v bool) *bool { return &v }

func TestSetStatusCompletesTask(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "complete")
	tk := testsupport.NewTask(t, f.store, ch.ID, "t", task.StatusCreated)
	ctx := context.Background()
	user := task.User{ID: 7}

	if err := f.locks.TryClaim(ctx, tk.ID, locks.ItemTask, user.ID); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	updated, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs:       []int64{tk.ID},
		Status:        task.StatusFixed,
		User:          user,
		RequestReview: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}

	got, err := store.TaskByID(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got.Status != task.StatusFixed {
		t.Fatalf("status = %s, want fixed", got.Status)
	}
	if got.MappedOn == nil {
		t.Fatal("mapped_on should be set on completion")
	}
	if got.CompletedBy == nil || *got.CompletedBy != user.ID {
		t.Fatal("completed_by should record the acting user")
	}

	// No review was wanted, so no record exists.
	fields, err := review.ByTask(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("ByTask: %v", err)
	}
	if fields != nil {
		t.Fatal("no review record expected")
	}

	// The lock was released after commit.
	held, err := f.locks.IsHeldBy(ctx, tk.ID, locks.ItemTask, user.ID)
	if err != nil {
		t.Fatalf("IsHeldBy: %v", err)
	}
	if held {
		t.Fatal("lock should be released after a successful status set")
	}
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "invalid")
	tk := testsupport.NewTask(t, f.store, ch.ID, "t", task.StatusCreated)
	ctx := context.Background()

	completer := int64(99)
	tk.Status = task.StatusFixed
	tk.CompletedBy = &completer
	if err := store.UpdateTask(ctx, f.store.Querier(), tk); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	// A non-privileged, non-original user gets no allowChange.
	_, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs: []int64{tk.ID},
		Status:  task.StatusFalsePositive,
		User:    task.User{ID: 7},
	})
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	got, err := store.TaskByID(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got.Status != task.StatusFixed {
		t.Fatalf("status = %s, must remain fixed", got.Status)
	}
}

func TestSetStatusLockConflict(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "conflict")
	tk := testsupport.NewTask(t, f.store, ch.ID, "t", task.StatusCreated)
	ctx := context.Background()

	if err := f.locks.TryClaim(ctx, tk.ID, locks.ItemTask, 1); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	_, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs: []int64{tk.ID},
		Status:  task.StatusFixed,
		User:    task.User{ID: 2},
	})
	if !errors.Is(err, task.ErrLockConflict) {
		t.Fatalf("err = %v, want ErrLockConflict", err)
	}

	got, err := store.TaskByID(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got.Status != task.StatusCreated {
		t.Fatal("status must not change on lock conflict")
	}
}

func TestSetStatusRejectsGuests(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.SetTaskStatus(context.Background(), lifecycle.Request{
		TaskIDs: []int64{1},
		Status:  task.StatusFixed,
		User:    task.User{ID: 3, Guest: true},
	})
	if !errors.Is(err, task.ErrGuestNotPermitted) {
		t.Fatalf("err = %v, want ErrGuestNotPermitted", err)
	}
}

func TestSetStatusBundleCompletesAllMembers(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "bundle")
	ctx := context.Background()
	user := task.User{ID: 7}

	a := testsupport.NewTask(t, f.store, ch.ID, "a", task.StatusCreated)
	b := testsupport.NewTask(t, f.store, ch.ID, "b", task.StatusCreated)
	c := testsupport.NewTask(t, f.store, ch.ID, "c", task.StatusCreated)
	for _, tk := range []*task.Task{a, b, c} {
		if err := f.locks.TryClaim(ctx, tk.ID, locks.ItemTask, user.ID); err != nil {
			t.Fatalf("TryClaim: %v", err)
		}
	}
	// Let some lock time elapse so the per-member share is measurable.
	time.Sleep(30 * time.Millisecond)

	updated, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs:       []int64{a.ID, b.ID, c.ID},
		Status:        task.StatusFixed,
		User:          user,
		PrimaryTaskID: b.ID,
		RequestReview: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if updated != 3 {
		t.Fatalf("updated = %d, want 3", updated)
	}

	members, err := store.TasksByIDs(ctx, f.store.Querier(), []int64{a.ID, b.ID, c.ID})
	if err != nil {
		t.Fatalf("TasksByIDs: %v", err)
	}
	var bundleID string
	var shares []time.Duration
	for _, m := range members {
		if m.Status != task.StatusFixed {
			t.Fatalf("member %d status = %s, want fixed", m.ID, m.Status)
		}
		if bundleID == "" {
			bundleID = m.BundleID
		}
		if m.BundleID == "" || m.BundleID != bundleID {
			t.Fatal("all members must share one bundle id")
		}
		if m.BundlePrimary != (m.ID == b.ID) {
			t.Fatalf("primary flag wrong on member %d", m.ID)
		}
		shares = append(shares, m.CompletedTimeSpent)
	}
	for _, share := range shares {
		if share <= 0 {
			t.Fatal("each member should carry a positive time share")
		}
		if share != shares[0] {
			t.Fatal("time spent must be split evenly")
		}
	}
}

func TestSetStatusBundleFailsFastOnForeignLock(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "failfast")
	ctx := context.Background()
	user := task.User{ID: 7}

	a := testsupport.NewTask(t, f.store, ch.ID, "a", task.StatusCreated)
	b := testsupport.NewTask(t, f.store, ch.ID, "b", task.StatusCreated)
	if err := f.locks.TryClaim(ctx, a.ID, locks.ItemTask, user.ID); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if err := f.locks.TryClaim(ctx, b.ID, locks.ItemTask, 99); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	_, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs: []int64{a.ID, b.ID},
		Status:  task.StatusFixed,
		User:    user,
	})
	if !errors.Is(err, task.ErrLockConflict) {
		t.Fatalf("err = %v, want ErrLockConflict", err)
	}

	// No member was mutated.
	for _, id := range []int64{a.ID, b.ID} {
		got, err := store.TaskByID(ctx, f.store.Querier(), id)
		if err != nil {
			t.Fatalf("TaskByID: %v", err)
		}
		if got.Status != task.StatusCreated {
			t.Fatalf("member %d mutated despite lock conflict", id)
		}
	}
}

func TestSetStatusCreatesReviewRecord(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "review")
	tk := testsupport.NewTask(t, f.store, ch.ID, "t", task.StatusCreated)
	ctx := context.Background()
	user := task.User{ID: 7}

	_, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs:       []int64{tk.ID},
		Status:        task.StatusFixed,
		User:          user,
		RequestReview: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	fields, err := review.ByTask(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("ByTask: %v", err)
	}
	if fields == nil {
		t.Fatal("expected a review record")
	}
	if fields.Status != task.ReviewRequested || fields.RequestedBy != user.ID {
		t.Fatalf("review = %s by %d, want requested by %d", fields.Status, fields.RequestedBy, user.ID)
	}
}

func TestSetStatusResetToCreatedClearsCompletionAndReview(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "reset")
	tk := testsupport.NewTask(t, f.store, ch.ID, "t", task.StatusCreated)
	ctx := context.Background()
	user := task.User{ID: 7}

	_, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs:       []int64{tk.ID},
		Status:        task.StatusFixed,
		User:          user,
		RequestReview: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Deleted -> Created is the only road back; use an elevated reset via
	// Deleted first.
	if _, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs: []int64{tk.ID},
		Status:  task.StatusDeleted,
		User:    user,
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs: []int64{tk.ID},
		Status:  task.StatusCreated,
		User:    user,
	}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	got, err := store.TaskByID(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got.Status != task.StatusCreated {
		t.Fatalf("status = %s, want created", got.Status)
	}
	if got.MappedOn != nil || got.CompletedBy != nil || got.CompletedTimeSpent != 0 {
		t.Fatal("reset must clear completion bookkeeping")
	}

	fields, err := review.ByTask(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("ByTask: %v", err)
	}
	if fields != nil {
		t.Fatal("reset to created must delete the review record")
	}
}

func TestSetStatusIdempotentNoOp(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "idempotent")
	tk := testsupport.NewTask(t, f.store, ch.ID, "t", task.StatusCreated)
	ctx := context.Background()

	updated, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs: []int64{tk.ID},
		Status:  task.StatusCreated,
		User:    task.User{ID: 7},
	})
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if updated != 0 {
		t.Fatalf("updated = %d, want 0 for a no-op", updated)
	}

	actions, err := store.ActionsForTask(ctx, f.store.Querier(), tk.ID, 10)
	if err != nil {
		t.Fatalf("ActionsForTask: %v", err)
	}
	if len(actions) != 0 {
		t.Fatal("no-op must not log an action")
	}
}

func TestSetStatusSkipDoesNotRegressSubstantiveState(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "skip")
	tk := testsupport.NewTask(t, f.store, ch.ID, "t", task.StatusCreated)
	ctx := context.Background()
	user := task.User{ID: 7}

	testsupport.SetTaskStatusRaw(t, f.store, tk.ID, task.StatusFixed)

	updated, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs: []int64{tk.ID},
		Status:  task.StatusSkipped,
		User:    user,
	})
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if updated != 0 {
		t.Fatalf("updated = %d, want 0 (status untouched)", updated)
	}

	got, err := store.TaskByID(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got.Status != task.StatusFixed {
		t.Fatalf("status = %s, must remain fixed", got.Status)
	}

	actions, err := store.ActionsForTask(ctx, f.store.Querier(), tk.ID, 10)
	if err != nil {
		t.Fatalf("ActionsForTask: %v", err)
	}
	if len(actions) != 1 || actions[0].NewStatus != task.StatusSkipped {
		t.Fatal("the skip attempt must still be logged")
	}
}

func TestSetStatusDissolvesDivergentPriorBundle(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "divergent")
	ctx := context.Background()
	user := task.User{ID: 7, Elevated: true}

	old := bundle.NewID()
	stray := testsupport.NewTask(t, f.store, ch.ID, "stray", task.StatusCreated)
	sibling := testsupport.NewTask(t, f.store, ch.ID, "sibling", task.StatusCreated)
	stray.BundleID = old
	stray.BundlePrimary = true
	sibling.BundleID = old
	for _, tk := range []*task.Task{stray, sibling} {
		if err := store.UpdateTask(ctx, f.store.Querier(), tk); err != nil {
			t.Fatalf("UpdateTask: %v", err)
		}
	}
	fresh := testsupport.NewTask(t, f.store, ch.ID, "fresh", task.StatusCreated)

	_, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs:       []int64{stray.ID, fresh.ID},
		Status:        task.StatusFixed,
		User:          user,
		PrimaryTaskID: stray.ID,
		RequestReview: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	// The old bundle's remaining member lost its linkage.
	got, err := store.TaskByID(ctx, f.store.Querier(), sibling.ID)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got.BundleID != "" {
		t.Fatal("prior bundle must be dissolved")
	}

	// The stray now belongs to the new bundle.
	moved, err := store.TaskByID(ctx, f.store.Querier(), stray.ID)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if moved.BundleID == "" || moved.BundleID == old {
		t.Fatalf("stray bundle id = %q, want a fresh bundle", moved.BundleID)
	}
}

func TestSetStatusBundleReassignmentNeedsPermission(t *testing.T) {
	f := newFixture(t)
	ch := testsupport.NewChallenge(t, f.store, "nopermission")
	ctx := context.Background()

	old := bundle.NewID()
	stray := testsupport.NewTask(t, f.store, ch.ID, "stray", task.StatusCreated)
	stray.BundleID = old
	stray.BundlePrimary = true
	if err := store.UpdateTask(ctx, f.store.Querier(), stray); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	fresh := testsupport.NewTask(t, f.store, ch.ID, "fresh", task.StatusCreated)

	_, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs:       []int64{stray.ID, fresh.ID},
		Status:        task.StatusFixed,
		User:          task.User{ID: 7},
		PrimaryTaskID: stray.ID,
	})
	if !errors.Is(err, task.ErrBundleIntegrity) {
		t.Fatalf("err = %v, want ErrBundleIntegrity", err)
	}
}

func TestSetStatusMissingTask(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.SetTaskStatus(context.Background(), lifecycle.Request{
		TaskIDs: []int64{12345},
		Status:  task.StatusFixed,
		User:    task.User{ID: 7},
	})
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetStatusDefaultReviewPreference(t *testing.T) {
	f := newFixture(t)
	f.cfg.Review.DefaultRequestReview = true
	ch := testsupport.NewChallenge(t, f.store, "default-review")
	tk := testsupport.NewTask(t, f.store, ch.ID, "t", task.StatusCreated)
	ctx := context.Background()

	_, err := f.orch.SetTaskStatus(ctx, lifecycle.Request{
		TaskIDs: []int64{tk.ID},
		Status:  task.StatusFixed,
		User:    task.User{ID: 7},
	})
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	fields, err := review.ByTask(ctx, f.store.Querier(), tk.ID)
	if err != nil {
		t.Fatalf("ByTask: %v", err)
	}
	if fields == nil {
		t.Fatal("server default should have requested a review")
	}
}
