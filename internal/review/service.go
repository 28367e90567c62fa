package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"taskmill/internal/events"
	"taskmill/internal/store"
	"taskmill/internal/task"
)

// Service implements the review workflow against the store of record.
type Service struct {
	store      *store.Store
	logger     *slog.Logger
	dispatcher *events.Dispatcher
}

// NewService builds a review service. The dispatcher may be nil when no
// post-commit events are wanted (tests, maintenance tooling).
func NewService(st *store.Store, logger *slog.Logger, dispatcher *events.Dispatcher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		logger:     logger.With("component", "review"),
		dispatcher: dispatcher,
	}
}

// GetTaskWithReview fetches a task along with its review record, if any.
func (s *Service) GetTaskWithReview(ctx context.Context, taskID int64) (*task.Task, error) {
	q := s.store.Querier()
	t, err := store.TaskByID(ctx, q, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, task.Wrap(task.ErrNotFound, "review", "get", fmt.Sprintf("task %d", taskID), nil)
	}
	fields, err := ByTask(ctx, q, taskID)
	if err != nil {
		return nil, err
	}
	t.Review = fields
	return t, nil
}

// EnsureRequested creates or resets the review record for a completed task
// inside the caller's transaction. It returns the previously assigned
// reviewer id (zero when none) so the caller can raise a reassignment
// notification after commit.
func EnsureRequested(ctx context.Context, q store.Querier, taskID int64, requester task.User) (int64, error) {
	existing, err := ByTask(ctx, q, taskID)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		_, err := q.ExecContext(
			ctx,
			`INSERT INTO task_reviews (task_id, review_status, review_requested_by, meta_review_status)
             VALUES (?, ?, ?, ?)`,
			taskID,
			task.ReviewRequested,
			requester.ID,
			task.ReviewNotSet,
		)
		if err != nil {
			return 0, fmt.Errorf("insert review: %w", err)
		}
		if err := appendHistory(ctx, q, taskID, requester.ID, task.ReviewRequested, false); err != nil {
			return 0, err
		}
		return 0, nil
	}

	// Revision cycle: reset the record to requested for a fresh pass.
	_, err = q.ExecContext(
		ctx,
		`UPDATE task_reviews
         SET review_status = ?, review_requested_by = ?, reviewed_at = NULL,
             review_started_at = NULL, review_claimed_by = NULL, review_claimed_at = NULL
         WHERE task_id = ?`,
		task.ReviewRequested,
		requester.ID,
		taskID,
	)
	if err != nil {
		return 0, fmt.Errorf("reset review: %w", err)
	}
	if err := appendHistory(ctx, q, taskID, requester.ID, task.ReviewRequested, false); err != nil {
		return 0, err
	}
	var previousReviewer int64
	if existing.ReviewedBy != nil {
		previousReviewer = *existing.ReviewedBy
	}
	return previousReviewer, nil
}

// DeleteForTask removes the review record outright. A later re-request
// starts a fresh record; the history log is intentionally retained.
func DeleteForTask(ctx context.Context, q store.Querier, taskID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM task_reviews WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return nil
}

// Claim marks a reviewer as having picked the task up for review, setting
// the started timestamp on first claim.
func (s *Service) Claim(ctx context.Context, taskID int64, reviewer task.User) error {
	fields, err := ByTask(ctx, s.store.Querier(), taskID)
	if err != nil {
		return err
	}
	if fields == nil {
		return task.Wrap(task.ErrNotFound, "review", "claim", fmt.Sprintf("task %d has no review", taskID), nil)
	}
	if err := guardSelfReview(fields, reviewer); err != nil {
		return err
	}

	now := time.Now().UTC()
	started := store.NullableTime(fields.StartedAt)
	if fields.StartedAt == nil {
		started = store.FormatTime(now)
	}
	_, err = s.store.Exec(
		ctx,
		`UPDATE task_reviews
         SET review_claimed_by = ?, review_claimed_at = ?, review_started_at = ?
         WHERE task_id = ?`,
		reviewer.ID,
		store.FormatTime(now),
		started,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("claim review: %w", err)
	}
	return nil
}

// RecordDecision applies a reviewer's decision to the primary review pass.
func (s *Service) RecordDecision(ctx context.Context, taskID int64, reviewer task.User, decision task.ReviewStatus) (*task.Task, error) {
	if decision == task.ReviewRequested || decision == task.ReviewNotSet {
		return nil, task.Wrap(task.ErrReviewNotPermitted, "review", "decide",
			fmt.Sprintf("%s is not a decision", decision), nil)
	}

	var updated *task.Task
	err := s.store.InTx(ctx, func(q store.Querier) error {
		t, err := store.TaskByID(ctx, q, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return task.Wrap(task.ErrNotFound, "review", "decide", fmt.Sprintf("task %d", taskID), nil)
		}
		fields, err := ByTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		if fields == nil {
			return task.Wrap(task.ErrNotFound, "review", "decide", fmt.Sprintf("task %d has no review", taskID), nil)
		}
		if err := guardSelfReview(fields, reviewer); err != nil {
			return err
		}

		now := time.Now().UTC()
		additional := fields.AdditionalReviewers
		if fields.ReviewedBy != nil && *fields.ReviewedBy != reviewer.ID {
			// A second reviewer weighs in; the primary reviewer stands and
			// this reviewer joins the additional set.
			additional = appendReviewer(additional, reviewer.ID)
			_, err = q.ExecContext(
				ctx,
				`UPDATE task_reviews
                 SET review_status = ?, reviewed_at = ?, additional_reviewers = ?
                 WHERE task_id = ?`,
				decision,
				store.FormatTime(now),
				store.NullableString(joinReviewers(additional)),
				taskID,
			)
		} else {
			_, err = q.ExecContext(
				ctx,
				`UPDATE task_reviews
                 SET review_status = ?, reviewed_by = ?, reviewed_at = ?
                 WHERE task_id = ?`,
				decision,
				reviewer.ID,
				store.FormatTime(now),
				taskID,
			)
		}
		if err != nil {
			return fmt.Errorf("update review: %w", err)
		}
		if err := appendHistory(ctx, q, taskID, reviewer.ID, decision, false); err != nil {
			return err
		}

		t.Review, err = ByTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.dispatcher != nil && updated.Review != nil {
		s.dispatcher.ReviewStatusChanged(reviewer, updated.Review.RequestedBy, updated, decision)
	}
	return updated, nil
}

// RecordMetaDecision applies a decision to the meta-review pass.
func (s *Service) RecordMetaDecision(ctx context.Context, taskID int64, reviewer task.User, decision task.ReviewStatus) (*task.Task, error) {
	if decision == task.ReviewRequested || decision == task.ReviewNotSet {
		return nil, task.Wrap(task.ErrReviewNotPermitted, "review", "meta-decide",
			fmt.Sprintf("%s is not a decision", decision), nil)
	}

	var updated *task.Task
	err := s.store.InTx(ctx, func(q store.Querier) error {
		t, err := store.TaskByID(ctx, q, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return task.Wrap(task.ErrNotFound, "review", "meta-decide", fmt.Sprintf("task %d", taskID), nil)
		}
		fields, err := ByTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		if fields == nil {
			return task.Wrap(task.ErrNotFound, "review", "meta-decide", fmt.Sprintf("task %d has no review", taskID), nil)
		}
		// Meta-review checks the reviewer's work, so the primary reviewer
		// may not meta-review themselves without elevation.
		if fields.ReviewedBy != nil && *fields.ReviewedBy == reviewer.ID && !reviewer.Elevated {
			return task.Wrap(task.ErrReviewNotPermitted, "review", "meta-decide",
				"reviewer may not meta-review their own decision", nil)
		}

		now := time.Now().UTC()
		_, err = q.ExecContext(
			ctx,
			`UPDATE task_reviews
             SET meta_review_status = ?, meta_reviewed_by = ?, meta_reviewed_at = ?
             WHERE task_id = ?`,
			decision,
			reviewer.ID,
			store.FormatTime(now),
			taskID,
		)
		if err != nil {
			return fmt.Errorf("update meta review: %w", err)
		}
		if err := appendHistory(ctx, q, taskID, reviewer.ID, decision, true); err != nil {
			return err
		}

		t.Review, err = ByTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.dispatcher != nil && updated.Review != nil && updated.Review.ReviewedBy != nil {
		s.dispatcher.ReviewStatusChanged(reviewer, *updated.Review.ReviewedBy, updated, decision)
	}
	return updated, nil
}

// History returns the append-only review history for a task, oldest first.
func (s *Service) History(ctx context.Context, taskID int64) ([]task.ReviewHistoryEntry, error) {
	rows, err := s.store.Querier().QueryContext(
		ctx,
		`SELECT id, task_id, actor_id, review_status, is_meta, created_at
         FROM task_review_history WHERE task_id = ? ORDER BY id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query review history: %w", err)
	}
	defer rows.Close()

	var entries []task.ReviewHistoryEntry
	for rows.Next() {
		var (
			entry      task.ReviewHistoryEntry
			status     string
			isMeta     int64
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.TaskID, &entry.ActorID, &status, &isMeta, &createdRaw); err != nil {
			return nil, err
		}
		entry.ReviewStatus = task.ReviewStatus(status)
		entry.Meta = isMeta != 0
		if created, err := store.ParseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ByTask fetches the review record for a task, nil when none exists.
func ByTask(ctx context.Context, q store.Querier, taskID int64) (*task.ReviewFields, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT task_id, review_status, review_requested_by, reviewed_by, reviewed_at,
                review_started_at, review_claimed_by, review_claimed_at,
                meta_review_status, meta_reviewed_by, meta_reviewed_at, additional_reviewers
         FROM task_reviews WHERE task_id = ?`,
		taskID,
	)

	var (
		fields        task.ReviewFields
		status        string
		reviewedBy    sql.NullInt64
		reviewedAt    sql.NullString
		startedAt     sql.NullString
		claimedBy     sql.NullInt64
		claimedAt     sql.NullString
		metaStatus    string
		metaBy        sql.NullInt64
		metaAt        sql.NullString
		additionalRaw sql.NullString
	)
	err := row.Scan(
		&fields.TaskID,
		&status,
		&fields.RequestedBy,
		&reviewedBy,
		&reviewedAt,
		&startedAt,
		&claimedBy,
		&claimedAt,
		&metaStatus,
		&metaBy,
		&metaAt,
		&additionalRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query review: %w", err)
	}

	fields.Status = task.ReviewStatus(status)
	fields.MetaStatus = task.ReviewStatus(metaStatus)
	if reviewedBy.Valid {
		v := reviewedBy.Int64
		fields.ReviewedBy = &v
	}
	if claimedBy.Valid {
		v := claimedBy.Int64
		fields.ClaimedBy = &v
	}
	if metaBy.Valid {
		v := metaBy.Int64
		fields.MetaReviewedBy = &v
	}
	timestamps := []struct {
		raw sql.NullString
		dst **time.Time
	}{
		{reviewedAt, &fields.ReviewedAt},
		{startedAt, &fields.StartedAt},
		{claimedAt, &fields.ClaimedAt},
		{metaAt, &fields.MetaReviewedAt},
	}
	for _, ts := range timestamps {
		if ts.raw.Valid {
			if parsed, err := store.ParseTimeString(ts.raw.String); err == nil {
				v := parsed
				*ts.dst = &v
			}
		}
	}
	if additionalRaw.Valid {
		fields.AdditionalReviewers = splitReviewers(additionalRaw.String)
	}
	return &fields, nil
}

func guardSelfReview(fields *task.ReviewFields, reviewer task.User) error {
	if fields.RequestedBy == reviewer.ID && !reviewer.Elevated {
		return task.Wrap(task.ErrReviewNotPermitted, "review", "guard",
			"requester may not review their own task", nil)
	}
	return nil
}

func appendHistory(ctx context.Context, q store.Querier, taskID, actorID int64, status task.ReviewStatus, meta bool) error {
	_, err := q.ExecContext(
		ctx,
		`INSERT INTO task_review_history (task_id, actor_id, review_status, is_meta, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		taskID,
		actorID,
		status,
		store.BoolToInt(meta),
		store.FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("append review history: %w", err)
	}
	return nil
}

func appendReviewer(reviewers []int64, id int64) []int64 {
	for _, existing := range reviewers {
		if existing == id {
			return reviewers
		}
	}
	return append(reviewers, id)
}

func joinReviewers(reviewers []int64) string {
	parts := make([]string, len(reviewers))
	for i, id := range reviewers {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitReviewers(value string) []int64 {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil {
			out = append(out, id)
		}
	}
	return out
}
