package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskmill/internal/bundle"
	"taskmill/internal/config"
	"taskmill/internal/events"
	"taskmill/internal/locks"
	"taskmill/internal/permissions"
	"taskmill/internal/review"
	"taskmill/internal/store"
	"taskmill/internal/task"
)

// Request describes one status-change operation, covering a single task or
// a whole bundle.
type Request struct {
	TaskIDs []int64
	Status  task.Status
	User    task.User

	// RequestReview overrides the configured default when non-nil.
	RequestReview *bool

	CompletionResponses string

	// BundleID names the bundle the tasks are grouped under. Empty with
	// multiple task ids mints a fresh bundle.
	BundleID string

	// PrimaryTaskID designates the bundle primary. Zero defaults to the
	// first task id.
	PrimaryTaskID int64
}

// Orchestrator applies status changes.
type Orchestrator struct {
	store      *store.Store
	cfg        *config.Config
	locks      *locks.Manager
	perms      permissions.Evaluator
	dispatcher *events.Dispatcher
	logger     *slog.Logger
}

// NewOrchestrator builds an orchestrator. A nil perms falls back to the
// built-in policy; a nil dispatcher disables post-commit events.
func NewOrchestrator(st *store.Store, cfg *config.Config, lockMgr *locks.Manager, perms permissions.Evaluator, dispatcher *events.Dispatcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if perms == nil {
		perms = permissions.Default{}
	}
	return &Orchestrator{
		store:      st,
		cfg:        cfg,
		locks:      lockMgr,
		perms:      perms,
		dispatcher: dispatcher,
		logger:     logger.With("component", "lifecycle"),
	}
}

// memberResult carries what happened to one task, for post-commit effects.
type memberResult struct {
	task             *task.Task
	mutated          bool
	completed        bool
	reviewRequested  bool
	previousReviewer int64
}

// SetTaskStatus applies the requested status to every task in the request
// and returns the number of rows mutated. All members commit or roll back
// together; locks held by the acting user are released after commit.
func (o *Orchestrator) SetTaskStatus(ctx context.Context, req Request) (int, error) {
	if req.User.Guest || req.User.ID == 0 {
		return 0, task.Wrap(task.ErrGuestNotPermitted, "lifecycle", "set-status",
			"status changes require an authenticated user", nil)
	}
	if len(req.TaskIDs) == 0 {
		return 0, task.Wrap(task.ErrNotFound, "lifecycle", "set-status", "no task ids given", nil)
	}
	if _, ok := task.ParseStatus(string(req.Status)); !ok {
		return 0, task.Wrap(task.ErrInvalidTransition, "lifecycle", "set-status",
			fmt.Sprintf("unknown status %q", req.Status), nil)
	}

	bundled := len(req.TaskIDs) > 1
	bundleID := req.BundleID
	if bundled && bundleID == "" {
		bundleID = bundle.NewID()
	}
	primaryID := req.PrimaryTaskID
	if primaryID == 0 {
		primaryID = req.TaskIDs[0]
	}

	var results []memberResult
	err := o.store.InTx(ctx, func(q store.Querier) error {
		members, err := store.TasksByIDs(ctx, q, req.TaskIDs)
		if err != nil {
			return err
		}
		if len(members) != len(req.TaskIDs) {
			return task.Wrap(task.ErrNotFound, "lifecycle", "set-status",
				fmt.Sprintf("%d of %d tasks missing", len(req.TaskIDs)-len(members), len(req.TaskIDs)), nil)
		}
		if bundled {
			if err := bundle.ValidateMembers(members, primaryID); err != nil {
				return err
			}
		}

		// Fail fast: every member must be unlocked or locked by the acting
		// user before any mutation begins.
		heldSince, err := o.checkLocks(ctx, q, members, req.User)
		if err != nil {
			return err
		}

		timeSpent := lockedShare(heldSince, len(members))
		var primary *task.Task
		for _, m := range members {
			if m.ID == primaryID {
				primary = m
			}
		}
		if primary == nil {
			primary = members[0]
		}

		results = results[:0]
		for _, m := range members {
			res, err := o.applyToMember(ctx, q, req, m, primary, bundled, bundleID, primaryID, timeSpent)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	o.finish(ctx, req, results)

	mutated := 0
	for _, res := range results {
		if res.mutated {
			mutated++
		}
	}
	return mutated, nil
}

// checkLocks verifies lock ownership for every member and returns the
// earliest lock-claim time held by the acting user, zero when none.
func (o *Orchestrator) checkLocks(ctx context.Context, q store.Querier, members []*task.Task, user task.User) (time.Time, error) {
	var heldSince time.Time
	for _, m := range members {
		lock, err := locks.Holder(ctx, q, m.ID, locks.ItemTask)
		if err != nil {
			return time.Time{}, err
		}
		if lock == nil {
			continue
		}
		if lock.UserID != user.ID {
			return time.Time{}, task.Wrap(task.ErrLockConflict, "lifecycle", "set-status",
				fmt.Sprintf("task %d is locked by user %d", m.ID, lock.UserID), nil)
		}
		if heldSince.IsZero() || lock.CreatedAt.Before(heldSince) {
			heldSince = lock.CreatedAt
		}
	}
	return heldSince, nil
}

// lockedShare splits the elapsed lock duration evenly across members so
// grouped tasks do not double-count effort.
func lockedShare(heldSince time.Time, memberCount int) time.Duration {
	if heldSince.IsZero() || memberCount == 0 {
		return 0
	}
	elapsed := time.Since(heldSince)
	if elapsed < 0 {
		return 0
	}
	return elapsed / time.Duration(memberCount)
}

func (o *Orchestrator) applyToMember(ctx context.Context, q store.Querier, req Request, m, primary *task.Task, bundled bool, bundleID string, primaryID int64, timeSpent time.Duration) (memberResult, error) {
	res := memberResult{task: m}

	if !o.perms.HasWriteAccess(m, req.User) {
		return res, task.Wrap(task.ErrGuestNotPermitted, "lifecycle", "set-status",
			fmt.Sprintf("no write access to task %d", m.ID), nil)
	}

	// Idempotent no-op: the current status is already the requested one.
	if m.Status == req.Status {
		return res, nil
	}

	allowChange := permissions.AllowChange(o.perms, m, req.User)

	// Skipping must not regress a task that already reached a substantive
	// state: log the skip and move on without touching the row.
	if req.Status == task.StatusSkipped && primary.Status != task.StatusCreated {
		err := store.AppendAction(ctx, q, task.Action{
			TaskID:    m.ID,
			UserID:    req.User.ID,
			OldStatus: m.Status,
			NewStatus: task.StatusSkipped,
		})
		return res, err
	}

	if !task.IsValidProgression(m.Status, req.Status, allowChange) {
		return res, task.Wrap(task.ErrInvalidTransition, "lifecycle", "set-status",
			fmt.Sprintf("task %d: %s -> %s", m.ID, m.Status, req.Status), nil)
	}

	// Reassigning a task out of a different live bundle dissolves that
	// bundle, but only when the user is permitted to change it.
	if bundled && m.BundleID != "" && m.BundleID != bundleID {
		if !allowChange {
			return res, task.Wrap(task.ErrBundleIntegrity, "lifecycle", "set-status",
				fmt.Sprintf("task %d already belongs to bundle %s", m.ID, m.BundleID), nil)
		}
		if _, err := bundle.DissolveExcept(ctx, q, m.BundleID, m.ID); err != nil {
			return res, err
		}
	}

	oldStatus := m.Status
	m.Status = req.Status

	now := time.Now().UTC()
	switch {
	case req.Status.IsCompleted():
		m.MappedOn = &now
		userID := req.User.ID
		m.CompletedBy = &userID
		m.CompletedTimeSpent = timeSpent
		m.CompletionResponses = req.CompletionResponses
		res.completed = true
	case req.Status == task.StatusCreated:
		m.MappedOn = nil
		m.CompletedBy = nil
		m.CompletedTimeSpent = 0
		m.CompletionResponses = ""
	}

	if bundled {
		m.BundleID = bundleID
		m.BundlePrimary = m.ID == primaryID
	}

	if err := store.UpdateTask(ctx, q, m); err != nil {
		return res, err
	}
	if err := store.AppendAction(ctx, q, task.Action{
		TaskID:    m.ID,
		UserID:    req.User.ID,
		OldStatus: oldStatus,
		NewStatus: req.Status,
	}); err != nil {
		return res, err
	}
	res.mutated = true

	if req.Status == task.StatusCreated {
		// Work that no longer claims completion carries no review.
		if err := review.DeleteForTask(ctx, q, m.ID); err != nil {
			return res, err
		}
	}
	if res.completed && o.wantReview(req) {
		previous, err := review.EnsureRequested(ctx, q, m.ID, req.User)
		if err != nil {
			return res, err
		}
		res.reviewRequested = true
		res.previousReviewer = previous
	}
	return res, nil
}

func (o *Orchestrator) wantReview(req Request) bool {
	if req.RequestReview != nil {
		return *req.RequestReview
	}
	return o.cfg.Review.DefaultRequestReview
}

// finish releases the acting user's locks and dispatches post-commit
// events. Nothing here can fail the already committed mutation.
func (o *Orchestrator) finish(ctx context.Context, req Request, results []memberResult) {
	for _, res := range results {
		held, err := o.locks.IsHeldBy(ctx, res.task.ID, locks.ItemTask, req.User.ID)
		if err != nil {
			o.logger.Warn("lock check after commit failed", "task", res.task.ID, "error", err)
		} else if held {
			o.locks.ReleaseQuietly(ctx, res.task.ID, locks.ItemTask, req.User.ID)
		}

		if !res.mutated || o.dispatcher == nil {
			continue
		}
		o.dispatcher.TaskUpdated(res.task)
		if res.completed {
			o.dispatcher.TaskCompleted(req.User, res.task)
		}
		if res.reviewRequested {
			o.dispatcher.ReviewRequested(req.User, res.previousReviewer, res.task)
		}
	}
}
