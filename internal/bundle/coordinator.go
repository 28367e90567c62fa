package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskmill/internal/store"
	"taskmill/internal/task"
)

// NewID mints a bundle identifier.
func NewID() string {
	return uuid.NewString()
}

// Coordinator answers bundle membership queries and dissolves bundles
// outside of a larger transaction.
type Coordinator struct {
	store  *store.Store
	logger *slog.Logger
}

// NewCoordinator builds a coordinator.
func NewCoordinator(st *store.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: st, logger: logger.With("component", "bundle")}
}

// Members returns all tasks linked to a bundle, primary included.
func (c *Coordinator) Members(ctx context.Context, bundleID string) ([]*task.Task, error) {
	return store.TasksByBundle(ctx, c.store.Querier(), bundleID)
}

// Primary returns the bundle's primary member, or an error when the bundle
// has none.
func (c *Coordinator) Primary(ctx context.Context, bundleID string) (*task.Task, error) {
	members, err := c.Members(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.BundlePrimary {
			return m, nil
		}
	}
	return nil, task.Wrap(task.ErrBundleIntegrity, "bundle", "primary",
		fmt.Sprintf("bundle %s has no primary member", bundleID), nil)
}

// Dissolve clears the linkage of every member of a bundle.
func (c *Coordinator) Dissolve(ctx context.Context, bundleID string) (int64, error) {
	var cleared int64
	err := c.store.InTx(ctx, func(q store.Querier) error {
		var err error
		cleared, err = DissolveExcept(ctx, q, bundleID, 0)
		return err
	})
	if err != nil {
		return 0, err
	}
	c.logger.Info("bundle dissolved", "bundle", bundleID, "members", cleared)
	return cleared, nil
}

// DissolveExcept clears bundle linkage for every member except one task,
// inside the caller's transaction. A zero exceptTaskID clears all members.
// Returns the number of rows cleared.
func DissolveExcept(ctx context.Context, q store.Querier, bundleID string, exceptTaskID int64) (int64, error) {
	res, err := q.ExecContext(
		ctx,
		`UPDATE tasks SET bundle_id = NULL, is_bundle_primary = 0, updated_at = ?
         WHERE bundle_id = ? AND id != ?`,
		store.FormatTime(time.Now()),
		bundleID,
		exceptTaskID,
	)
	if err != nil {
		return 0, fmt.Errorf("dissolve bundle: %w", err)
	}
	return res.RowsAffected()
}

// ValidateMembers checks that a bundle assignment is well formed: at least
// one member, and the designated primary among them.
func ValidateMembers(members []*task.Task, primaryTaskID int64) error {
	if len(members) == 0 {
		return task.Wrap(task.ErrBundleIntegrity, "bundle", "validate", "bundle has no members", nil)
	}
	for _, m := range members {
		if m.ID == primaryTaskID {
			return nil
		}
	}
	return task.Wrap(task.ErrBundleIntegrity, "bundle", "validate",
		fmt.Sprintf("primary task %d is not a member", primaryTaskID), nil)
}
