package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskmill/internal/task"
)

// TaskColumns is the canonical column list for task row scans, shared with
// the selection engine's hand-built queries.
const TaskColumns = "t.id, t.challenge_id, t.name, t.status, t.priority, t.geometry_json, t.lon, t.lat, t.tags, t.mapped_on, t.completed_by, t.completed_time_spent_ms, t.completion_responses, t.bundle_id, t.is_bundle_primary, t.created_at, t.updated_at"

// ScanTask reads one task row produced with TaskColumns.
func ScanTask(scanner interface{ Scan(dest ...any) error }) (*task.Task, error) {
	var (
		id            int64
		challengeID   int64
		name          string
		statusStr     string
		priority      int64
		geometry      sql.NullString
		lon           float64
		lat           float64
		tags          sql.NullString
		mappedOnRaw   sql.NullString
		completedBy   sql.NullInt64
		timeSpentMs   int64
		responses     sql.NullString
		bundleID      sql.NullString
		bundlePrimary sql.NullInt64
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&challengeID,
		&name,
		&statusStr,
		&priority,
		&geometry,
		&lon,
		&lat,
		&tags,
		&mappedOnRaw,
		&completedBy,
		&timeSpentMs,
		&responses,
		&bundleID,
		&bundlePrimary,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:                  id,
		ChallengeID:         challengeID,
		Name:                name,
		Status:              task.Status(statusStr),
		Priority:            task.Priority(priority),
		GeometryJSON:        geometry.String,
		Lon:                 lon,
		Lat:                 lat,
		Tags:                SplitTags(tags.String),
		CompletedTimeSpent:  time.Duration(timeSpentMs) * time.Millisecond,
		CompletionResponses: responses.String,
		BundleID:            bundleID.String,
	}
	if bundlePrimary.Valid {
		t.BundlePrimary = bundlePrimary.Int64 != 0
	}
	if completedBy.Valid {
		v := completedBy.Int64
		t.CompletedBy = &v
	}
	if mappedOnRaw.Valid {
		if mapped, err := ParseTimeString(mappedOnRaw.String); err == nil {
			t.MappedOn = &mapped
		}
	}
	if created, err := ParseTimeString(createdRaw.String); err == nil {
		t.CreatedAt = created
	}
	if updated, err := ParseTimeString(updatedRaw.String); err == nil {
		t.UpdatedAt = updated
	}
	return t, nil
}

// InsertTask persists a new task and returns its assigned id.
func InsertTask(ctx context.Context, q Querier, t *task.Task) (int64, error) {
	if t == nil {
		return 0, errors.New("task is nil")
	}
	now := FormatTime(time.Now())
	status := t.Status
	if status == "" {
		status = task.StatusCreated
	}
	res, err := q.ExecContext(
		ctx,
		`INSERT INTO tasks (
            challenge_id, name, status, priority, geometry_json, lon, lat, tags,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ChallengeID,
		t.Name,
		status,
		int64(t.Priority),
		NullableString(t.GeometryJSON),
		t.Lon,
		t.Lat,
		NullableString(JoinTags(t.Tags)),
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// TaskByID fetches a task by identifier, returning nil when absent.
func TaskByID(ctx context.Context, q Querier, id int64) (*task.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+TaskColumns+` FROM tasks t WHERE t.id = ?`, id)
	t, err := ScanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// TasksByIDs fetches tasks for the given ids, preserving the input order.
func TasksByIDs(ctx context.Context, q Querier, ids []int64) ([]*task.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := MakePlaceholders(len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT `+TaskColumns+` FROM tasks t WHERE t.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*task.Task, len(ids))
	for rows.Next() {
		t, err := ScanTask(rows)
		if err != nil {
			return nil, err
		}
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			ordered = append(ordered, t)
		}
	}
	return ordered, nil
}

// TasksByBundle returns all members of a bundle.
func TasksByBundle(ctx context.Context, q Querier, bundleID string) ([]*task.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+TaskColumns+` FROM tasks t WHERE t.bundle_id = ? ORDER BY t.id`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("query bundle members: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := ScanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TasksByChallenge returns the tasks belonging to a challenge.
func TasksByChallenge(ctx context.Context, q Querier, challengeID int64) ([]*task.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+TaskColumns+` FROM tasks t WHERE t.challenge_id = ? ORDER BY t.id`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("query challenge tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := ScanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask persists changes to an existing task row.
func UpdateTask(ctx context.Context, q Querier, t *task.Task) error {
	if t == nil {
		return errors.New("task is nil")
	}
	t.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(
		ctx,
		`UPDATE tasks
         SET challenge_id = ?, name = ?, status = ?, priority = ?, geometry_json = ?,
             lon = ?, lat = ?, tags = ?, mapped_on = ?, completed_by = ?,
             completed_time_spent_ms = ?, completion_responses = ?, bundle_id = ?,
             is_bundle_primary = ?, updated_at = ?
         WHERE id = ?`,
		t.ChallengeID,
		t.Name,
		t.Status,
		int64(t.Priority),
		NullableString(t.GeometryJSON),
		t.Lon,
		t.Lat,
		NullableString(JoinTags(t.Tags)),
		NullableTime(t.MappedOn),
		NullableInt64(t.CompletedBy),
		t.CompletedTimeSpent.Milliseconds(),
		NullableString(t.CompletionResponses),
		NullableString(t.BundleID),
		BoolToInt(t.BundlePrimary),
		FormatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update task %d: no row", t.ID)
	}
	return nil
}

// AppendAction records one append-only action log entry.
func AppendAction(ctx context.Context, q Querier, a task.Action) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := q.ExecContext(
		ctx,
		`INSERT INTO task_actions (task_id, user_id, old_status, new_status, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		a.TaskID,
		a.UserID,
		a.OldStatus,
		a.NewStatus,
		FormatTime(created),
	)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

// ActionsForTask returns the most recent action log entries for a task.
func ActionsForTask(ctx context.Context, q Querier, taskID int64, limit int) ([]task.Action, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(
		ctx,
		`SELECT id, task_id, user_id, old_status, new_status, created_at
         FROM task_actions WHERE task_id = ? ORDER BY id DESC LIMIT ?`,
		taskID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []task.Action
	for rows.Next() {
		var (
			a          task.Action
			oldStatus  string
			newStatus  string
			createdRaw string
		)
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UserID, &oldStatus, &newStatus, &createdRaw); err != nil {
			return nil, err
		}
		a.OldStatus = task.Status(oldStatus)
		a.NewStatus = task.Status(newStatus)
		if created, err := ParseTimeString(createdRaw); err == nil {
			a.CreatedAt = created
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// StatsByChallenge returns a count of tasks grouped by status for one
// challenge, or for all challenges when challengeID is zero.
func StatsByChallenge(ctx context.Context, q Querier, challengeID int64) (map[task.Status]int, error) {
	query := `SELECT status, COUNT(1) FROM tasks GROUP BY status`
	args := []any{}
	if challengeID != 0 {
		query = `SELECT status, COUNT(1) FROM tasks WHERE challenge_id = ? GROUP BY status`
		args = append(args, challengeID)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[task.Status]int)
	for rows.Next() {
		var status task.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
