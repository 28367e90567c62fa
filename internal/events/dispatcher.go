package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"taskmill/internal/task"
)

// Broadcaster receives live-update events after successful commits.
type Broadcaster interface {
	TaskUpdated(ctx context.Context, t *task.Task) error
	TaskCompleted(ctx context.Context, t *task.Task) error
	ReviewCreated(ctx context.Context, t *task.Task) error
}

// Notifier delivers review notifications to users.
type Notifier interface {
	NotifyReviewRequested(ctx context.Context, from task.User, reviewerID int64, t *task.Task) error
	NotifyReviewStatusChanged(ctx context.Context, actor task.User, toUserID int64, t *task.Task, status task.ReviewStatus) error
}

// Matcher correlates a completed task with an external changeset record.
type Matcher interface {
	MatchChangeset(ctx context.Context, t *task.Task) error
}

// Scorer awards completion credit.
type Scorer interface {
	AwardCompletion(ctx context.Context, user task.User, t *task.Task) error
}

// Dispatcher fans post-commit events out to collaborators on independent
// goroutines. Any collaborator may be nil; its events are dropped.
type Dispatcher struct {
	logger      *slog.Logger
	broadcaster Broadcaster
	notifier    Notifier
	matcher     Matcher
	scorer      Scorer
	timeout     time.Duration

	wg sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithBroadcaster wires the live-update broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(d *Dispatcher) { d.broadcaster = b }
}

// WithNotifier wires the review notification emitter.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithMatcher wires the external changeset matcher.
func WithMatcher(m Matcher) Option {
	return func(d *Dispatcher) { d.matcher = m }
}

// WithScorer wires the scoring service.
func WithScorer(s Scorer) Option {
	return func(d *Dispatcher) { d.scorer = s }
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:  logger.With("component", "events"),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Wait blocks until all in-flight dispatches finish. Tests use this to
// observe asynchronous effects deterministically.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// dispatch runs fn detached from the caller's context so a slow
// collaborator cannot stall a committed mutation.
func (d *Dispatcher) dispatch(name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("collaborator panicked", "event", name, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("collaborator failed", "event", name, "error", err)
		}
	}()
}

// TaskUpdated announces a committed task mutation.
func (d *Dispatcher) TaskUpdated(t *task.Task) {
	if d == nil || d.broadcaster == nil {
		return
	}
	d.dispatch("task-updated", func(ctx context.Context) error {
		return d.broadcaster.TaskUpdated(ctx, t)
	})
}

// TaskCompleted announces a committed completion and triggers the
// out-of-band collaborators that follow it.
func (d *Dispatcher) TaskCompleted(user task.User, t *task.Task) {
	if d == nil {
		return
	}
	if d.broadcaster != nil {
		d.dispatch("task-completed", func(ctx context.Context) error {
			return d.broadcaster.TaskCompleted(ctx, t)
		})
	}
	if d.matcher != nil {
		d.dispatch("changeset-match", func(ctx context.Context) error {
			return d.matcher.MatchChangeset(ctx, t)
		})
	}
	if d.scorer != nil {
		d.dispatch("scoring", func(ctx context.Context) error {
			return d.scorer.AwardCompletion(ctx, user, t)
		})
	}
}

// ReviewRequested announces a new or re-requested review. reviewerID is
// zero when no reviewer was previously assigned; no notification fires in
// that case.
func (d *Dispatcher) ReviewRequested(from task.User, reviewerID int64, t *task.Task) {
	if d == nil {
		return
	}
	if d.broadcaster != nil {
		d.dispatch("review-created", func(ctx context.Context) error {
			return d.broadcaster.ReviewCreated(ctx, t)
		})
	}
	if d.notifier != nil && reviewerID != 0 {
		d.dispatch("review-requested", func(ctx context.Context) error {
			return d.notifier.NotifyReviewRequested(ctx, from, reviewerID, t)
		})
	}
}

// ReviewStatusChanged notifies the review requester of a decision.
func (d *Dispatcher) ReviewStatusChanged(actor task.User, toUserID int64, t *task.Task, status task.ReviewStatus) {
	if d == nil || d.notifier == nil || toUserID == 0 {
		return
	}
	d.dispatch("review-status-changed", func(ctx context.Context) error {
		return d.notifier.NotifyReviewStatusChanged(ctx, actor, toUserID, t, status)
	})
}
