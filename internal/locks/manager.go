package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskmill/internal/store"
	"taskmill/internal/task"
)

// ItemType distinguishes what kind of item a lock row claims.
type ItemType string

const (
	ItemTask   ItemType = "task"
	ItemBundle ItemType = "bundle"
)

// Lock is one live claim row.
type Lock struct {
	ItemID    int64
	ItemType  ItemType
	UserID    int64
	CreatedAt time.Time
}

// Manager grants and revokes exclusive claims backed by the lock table.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

// NewManager builds a lock manager.
func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, logger: logger.With("component", "locks")}
}

// TryClaim acquires or continues an exclusive claim for userID. The upsert
// only applies when the row is absent or already owned by the requester;
// zero rows affected is surfaced as ErrLockConflict, never a silent no-op.
func (m *Manager) TryClaim(ctx context.Context, itemID int64, itemType ItemType, userID int64) error {
	return TryClaim(ctx, m.store.Querier(), itemID, itemType, userID)
}

// TryClaim is the transaction-capable form of Manager.TryClaim.
func TryClaim(ctx context.Context, q store.Querier, itemID int64, itemType ItemType, userID int64) error {
	res, err := q.ExecContext(
		ctx,
		`INSERT INTO task_locks (item_id, item_type, user_id, created_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(item_id, item_type) DO UPDATE
         SET user_id = excluded.user_id
         WHERE task_locks.user_id = excluded.user_id`,
		itemID,
		itemType,
		userID,
		store.FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("claim lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return task.Wrap(task.ErrLockConflict, "locks", "claim",
			fmt.Sprintf("%s %d", itemType, itemID), nil)
	}
	return nil
}

// Release removes the claim held by userID. A missing row is reported as an
// error for the caller to log; release failures never block the primary
// mutation that already succeeded.
func (m *Manager) Release(ctx context.Context, itemID int64, itemType ItemType, userID int64) error {
	return Release(ctx, m.store.Querier(), itemID, itemType, userID)
}

// Release is the transaction-capable form of Manager.Release.
func Release(ctx context.Context, q store.Querier, itemID int64, itemType ItemType, userID int64) error {
	res, err := q.ExecContext(
		ctx,
		`DELETE FROM task_locks WHERE item_id = ? AND item_type = ? AND user_id = ?`,
		itemID,
		itemType,
		userID,
	)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("release lock: no claim on %s %d for user %d", itemType, itemID, userID)
	}
	return nil
}

// ReleaseQuietly releases a claim and logs instead of failing when the row
// is already gone.
func (m *Manager) ReleaseQuietly(ctx context.Context, itemID int64, itemType ItemType, userID int64) {
	if err := m.Release(ctx, itemID, itemType, userID); err != nil {
		m.logger.Warn("lock release failed", "item", itemID, "type", string(itemType), "user", userID, "error", err)
	}
}

// Holder returns the live lock for an item, or nil when unclaimed.
func (m *Manager) Holder(ctx context.Context, itemID int64, itemType ItemType) (*Lock, error) {
	return Holder(ctx, m.store.Querier(), itemID, itemType)
}

// Holder is the transaction-capable form of Manager.Holder.
func Holder(ctx context.Context, q store.Querier, itemID int64, itemType ItemType) (*Lock, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT item_id, item_type, user_id, created_at FROM task_locks
         WHERE item_id = ? AND item_type = ?`,
		itemID,
		itemType,
	)
	var (
		lock       Lock
		typeStr    string
		createdRaw string
	)
	err := row.Scan(&lock.ItemID, &typeStr, &lock.UserID, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	lock.ItemType = ItemType(typeStr)
	if created, err := store.ParseTimeString(createdRaw); err == nil {
		lock.CreatedAt = created
	}
	return &lock, nil
}

// IsHeldBy reports whether userID currently holds the claim on an item.
func (m *Manager) IsHeldBy(ctx context.Context, itemID int64, itemType ItemType, userID int64) (bool, error) {
	lock, err := m.Holder(ctx, itemID, itemType)
	if err != nil {
		return false, err
	}
	return lock != nil && lock.UserID == userID, nil
}

// SweepExpired removes locks created before the cutoff and returns the
// number removed. Expiry policy lives in config; the engine itself never
// auto-expires a claim.
func (m *Manager) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.store.Exec(
		ctx,
		`DELETE FROM task_locks WHERE created_at < ?`,
		store.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep locks: %w", err)
	}
	return res.RowsAffected()
}

// List returns all live locks ordered by age, oldest first.
func (m *Manager) List(ctx context.Context) ([]Lock, error) {
	rows, err := m.store.Querier().QueryContext(
		ctx,
		`SELECT item_id, item_type, user_id, created_at FROM task_locks ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var (
			lock       Lock
			typeStr    string
			createdRaw string
		)
		if err := rows.Scan(&lock.ItemID, &typeStr, &lock.UserID, &createdRaw); err != nil {
			return nil, err
		}
		lock.ItemType = ItemType(typeStr)
		if created, err := store.ParseTimeString(createdRaw); err == nil {
			lock.CreatedAt = created
		}
		out = append(out, lock)
	}
	return out, rows.Err()
}
