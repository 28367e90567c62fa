package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"taskmill/internal/challenge"
	"taskmill/internal/config"
	"taskmill/internal/locks"
	"taskmill/internal/store"
	"taskmill/internal/task"
)

// Criteria narrows the candidate set for one selection request.
type Criteria struct {
	// ChallengeID pins the challenge to draw from. Zero means pick one at
	// random from enabled challenges that have tasks.
	ChallengeID int64

	// Priority restricts results to a single tier when non-nil.
	Priority *task.Priority

	// Tags keeps only tasks carrying the requested tags. Whether all or
	// any must match is a configuration toggle.
	Tags []string

	// NameSearch keeps only tasks whose name contains the given text,
	// compared case-folded.
	NameSearch string

	// ProximityTaskID orders results by distance to this task's location
	// and excludes the anchor itself. Zero disables proximity ordering.
	ProximityTaskID int64

	// Limit caps the result size. Zero or negative means one task.
	Limit int
}

// Engine selects tasks for users.
type Engine struct {
	store  *store.Store
	cfg    *config.Config
	logger *slog.Logger
	rng    *rand.Rand
	folder cases.Caser
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRand overrides the random source, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// NewEngine builds a selection engine.
func NewEngine(st *store.Store, cfg *config.Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "selection"),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		folder: cases.Fold(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SelectNext returns up to Limit eligible tasks for the user. When
// reservation is configured, returned tasks are claimed for the user inside
// the selection transaction so concurrent selectors never overlap.
func (e *Engine) SelectNext(ctx context.Context, user task.User, criteria Criteria) ([]*task.Task, error) {
	challengeID, err := e.resolveChallenge(ctx, criteria)
	if err != nil {
		return nil, err
	}
	if challengeID == 0 {
		return nil, nil
	}

	limit := criteria.Limit
	if limit <= 0 {
		limit = 1
	}
	if max := e.cfg.Selection.MaxLimit; max > 0 && limit > max {
		limit = max
	}

	if !e.cfg.Selection.ReserveOnSelect {
		candidates, err := e.candidates(ctx, e.store.Querier(), user, challengeID, criteria)
		if err != nil {
			return nil, err
		}
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates, nil
	}

	var picked []*task.Task
	err = e.store.InTx(ctx, func(q store.Querier) error {
		candidates, err := e.candidates(ctx, q, user, challengeID, criteria)
		if err != nil {
			return err
		}
		for _, t := range candidates {
			if len(picked) >= limit {
				break
			}
			err := locks.TryClaim(ctx, q, t.ID, locks.ItemTask, user.ID)
			if errors.Is(err, task.ErrLockConflict) {
				// Another selector got there first; move on.
				continue
			}
			if err != nil {
				return err
			}
			picked = append(picked, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

// SelectWithPriorityFallback tries the High tier first, then Medium, then
// Low, returning the first tier that yields results. A tier whose query
// fails is treated as empty so fallback can proceed.
func (e *Engine) SelectWithPriorityFallback(ctx context.Context, user task.User, criteria Criteria) ([]*task.Task, error) {
	for _, tier := range []task.Priority{task.PriorityHigh, task.PriorityMedium, task.PriorityLow} {
		scoped := criteria
		p := tier
		scoped.Priority = &p
		results, err := e.SelectNext(ctx, user, scoped)
		if err != nil {
			e.logger.Warn("tier query failed, falling through", "tier", tier.String(), "error", err)
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	return nil, nil
}

// resolveChallenge pins the challenge to select from. Zero means no
// challenge has any tasks and selection is trivially empty.
func (e *Engine) resolveChallenge(ctx context.Context, criteria Criteria) (int64, error) {
	if criteria.ChallengeID != 0 {
		return criteria.ChallengeID, nil
	}
	ids, err := challenge.CandidateIDs(ctx, e.store.Querier(), true)
	if err != nil {
		return 0, fmt.Errorf("resolve challenge: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[e.rng.IntN(len(ids))], nil
}

// candidates runs the eligible-set query and the in-memory filter and
// ordering passes, returning tasks best-first.
func (e *Engine) candidates(ctx context.Context, q store.Querier, user task.User, challengeID int64, criteria Criteria) ([]*task.Task, error) {
	statuses := []task.Status{task.StatusCreated, task.StatusSkipped}
	if e.cfg.Selection.IncludeTooHard {
		statuses = append(statuses, task.StatusTooHard)
	}
	statusArgs := make([]any, len(statuses))
	for i, s := range statuses {
		statusArgs[i] = s
	}

	cutoff := time.Now().Add(-e.cfg.RecentActionWindow())
	query := `SELECT ` + store.TaskColumns + ` FROM tasks t
        LEFT JOIN task_locks l ON l.item_id = t.id AND l.item_type = 'task'
        WHERE t.challenge_id = ?
          AND t.status IN (` + store.MakePlaceholders(len(statuses)) + `)
          AND (l.user_id IS NULL OR l.user_id = ?)
          AND t.id NOT IN (
              SELECT a.task_id FROM task_actions a
              WHERE a.user_id = ? AND a.new_status != ? AND a.created_at >= ?)`
	args := []any{challengeID}
	args = append(args, statusArgs...)
	args = append(args, user.ID, user.ID, task.StatusCreated, store.FormatTime(cutoff))

	if criteria.Priority != nil {
		query += ` AND t.priority = ?`
		args = append(args, int64(*criteria.Priority))
	}
	if criteria.ProximityTaskID != 0 {
		query += ` AND t.id != ?`
		args = append(args, criteria.ProximityTaskID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*task.Task
	for rows.Next() {
		t, err := store.ScanTask(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	candidates = e.filterTags(candidates, criteria.Tags)
	candidates = e.filterName(candidates, criteria.NameSearch)

	var anchor *task.Task
	if criteria.ProximityTaskID != 0 {
		anchor, err = store.TaskByID(ctx, q, criteria.ProximityTaskID)
		if err != nil {
			return nil, err
		}
	}
	e.order(candidates, anchor)
	return candidates, nil
}

func (e *Engine) filterTags(tasks []*task.Task, wanted []string) []*task.Task {
	cleaned := make([]string, 0, len(wanted))
	for _, tag := range wanted {
		tag = strings.TrimSpace(strings.ToLower(tag))
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	if len(cleaned) == 0 {
		return tasks
	}

	out := tasks[:0]
	for _, t := range tasks {
		have := make(map[string]bool, len(t.Tags))
		for _, tag := range t.Tags {
			have[tag] = true
		}
		matched := 0
		for _, tag := range cleaned {
			if have[tag] {
				matched++
			}
		}
		keep := matched == len(cleaned)
		if e.cfg.Selection.TagMatchAny {
			keep = matched > 0
		}
		if keep {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) filterName(tasks []*task.Task, search string) []*task.Task {
	search = strings.TrimSpace(search)
	if search == "" {
		return tasks
	}
	needle := e.folder.String(search)
	out := tasks[:0]
	for _, t := range tasks {
		if strings.Contains(e.folder.String(t.Name), needle) {
			out = append(out, t)
		}
	}
	return out
}

// order sorts candidates best-first: distance to the anchor when one is
// given, then status, then a random tie-break so equal tasks rotate
// between requests.
func (e *Engine) order(tasks []*task.Task, anchor *task.Task) {
	jitter := make(map[int64]float64, len(tasks))
	for _, t := range tasks {
		jitter[t.ID] = e.rng.Float64()
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if anchor != nil {
			da := haversineKm(anchor.Lat, anchor.Lon, a.Lat, a.Lon)
			db := haversineKm(anchor.Lat, anchor.Lon, b.Lat, b.Lon)
			if da != db {
				return da < db
			}
		}
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra < rb
		}
		return jitter[a.ID] < jitter[b.ID]
	})
}

func statusRank(s task.Status) int {
	switch s {
	case task.StatusCreated:
		return 0
	case task.StatusSkipped:
		return 1
	case task.StatusTooHard:
		return 2
	default:
		return 3
	}
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
