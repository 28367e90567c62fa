package challenge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskmill/internal/store"
	"taskmill/internal/task"
)

// Challenge is a named collection of tasks sharing priority rules and
// configuration.
type Challenge struct {
	ID              int64
	Name            string
	Enabled         bool
	DefaultPriority task.Priority
	PriorityRules   []PriorityRule
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PriorityRule assigns a tier to tasks whose location falls inside a
// bounding box. Rules are evaluated in order; the first match wins.
type PriorityRule struct {
	Priority task.Priority `json:"priority"`
	MinLon   float64       `json:"minLon"`
	MinLat   float64       `json:"minLat"`
	MaxLon   float64       `json:"maxLon"`
	MaxLat   float64       `json:"maxLat"`
}

func (r PriorityRule) contains(lon, lat float64) bool {
	return lon >= r.MinLon && lon <= r.MaxLon && lat >= r.MinLat && lat <= r.MaxLat
}

// ComputePriority evaluates the challenge's rules against a task location
// and returns the tier to cache on the task.
func (c *Challenge) ComputePriority(t *task.Task) task.Priority {
	if c == nil || t == nil {
		return task.PriorityMedium
	}
	for _, rule := range c.PriorityRules {
		if rule.contains(t.Lon, t.Lat) {
			return rule.Priority
		}
	}
	return c.DefaultPriority
}

const columns = "id, name, enabled, default_priority, priority_rules, created_at, updated_at"

// Insert persists a new challenge and returns its assigned id.
func Insert(ctx context.Context, q store.Querier, c *Challenge) (int64, error) {
	if c == nil {
		return 0, errors.New("challenge is nil")
	}
	rules, err := marshalRules(c.PriorityRules)
	if err != nil {
		return 0, err
	}
	now := store.FormatTime(time.Now())
	res, err := q.ExecContext(
		ctx,
		`INSERT INTO challenges (name, enabled, default_priority, priority_rules, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		c.Name,
		store.BoolToInt(c.Enabled),
		int64(c.DefaultPriority),
		store.NullableString(rules),
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert challenge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// ByID fetches a challenge by identifier, returning nil when absent.
func ByID(ctx context.Context, q store.Querier, id int64) (*Challenge, error) {
	row := q.QueryRowContext(ctx, `SELECT `+columns+` FROM challenges WHERE id = ?`, id)
	c, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return c, nil
}

// List returns all challenges ordered by id.
func List(ctx context.Context, q store.Querier) ([]*Challenge, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+columns+` FROM challenges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var out []*Challenge
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CandidateIDs returns the ids of challenges eligible for random selection:
// optionally restricted to enabled challenges, and always restricted to
// challenges that have at least one task.
func CandidateIDs(ctx context.Context, q store.Querier, enabledOnly bool) ([]int64, error) {
	query := `SELECT c.id FROM challenges c
        WHERE EXISTS (SELECT 1 FROM tasks t WHERE t.challenge_id = c.id)`
	if enabledOnly {
		query += ` AND c.enabled = 1`
	}
	query += ` ORDER BY c.id`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("candidate challenges: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetEnabled toggles a challenge's enabled flag.
func SetEnabled(ctx context.Context, q store.Querier, id int64, enabled bool) error {
	res, err := q.ExecContext(
		ctx,
		`UPDATE challenges SET enabled = ?, updated_at = ? WHERE id = ?`,
		store.BoolToInt(enabled),
		store.FormatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return task.Wrap(task.ErrNotFound, "challenge", "set-enabled", fmt.Sprintf("challenge %d", id), nil)
	}
	return nil
}

func scan(scanner interface{ Scan(dest ...any) error }) (*Challenge, error) {
	var (
		c          Challenge
		enabled    int64
		priority   int64
		rulesRaw   sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&c.ID, &c.Name, &enabled, &priority, &rulesRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	c.DefaultPriority = task.Priority(priority)
	if rulesRaw.Valid && rulesRaw.String != "" {
		if err := json.Unmarshal([]byte(rulesRaw.String), &c.PriorityRules); err != nil {
			return nil, fmt.Errorf("parse priority rules: %w", err)
		}
	}
	if created, err := store.ParseTimeString(createdRaw); err == nil {
		c.CreatedAt = created
	}
	if updated, err := store.ParseTimeString(updatedRaw); err == nil {
		c.UpdatedAt = updated
	}
	return &c, nil
}

func marshalRules(rules []PriorityRule) (string, error) {
	if len(rules) == 0 {
		return "", nil
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("marshal priority rules: %w", err)
	}
	return string(data), nil
}
