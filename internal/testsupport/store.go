package testsupport

import (
	"context"
	"testing"
	"time"

	"taskmill/internal/challenge"
	"taskmill/internal/config"
	"taskmill/internal/store"
	"taskmill/internal/task"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewChallenge inserts a challenge for tests.
func NewChallenge(t testing.TB, st *store.Store, name string) *challenge.Challenge {
	t.Helper()

	ch := &challenge.Challenge{Name: name, Enabled: true, DefaultPriority: task.PriorityMedium}
	id, err := challenge.Insert(context.Background(), st.Querier(), ch)
	if err != nil {
		t.Fatalf("challenge.Insert: %v", err)
	}
	ch.ID = id
	return ch
}

// NewTask inserts a task for tests and returns the stored row.
func NewTask(t testing.TB, st *store.Store, challengeID int64, name string, status task.Status) *task.Task {
	t.Helper()

	tk := &task.Task{
		ChallengeID: challengeID,
		Name:        name,
		Status:      status,
		Priority:    task.PriorityMedium,
	}
	id, err := store.InsertTask(context.Background(), st.Querier(), tk)
	if err != nil {
		t.Fatalf("store.InsertTask: %v", err)
	}
	stored, err := store.TaskByID(context.Background(), st.Querier(), id)
	if err != nil {
		t.Fatalf("store.TaskByID: %v", err)
	}
	if stored == nil {
		t.Fatalf("inserted task %d not found", id)
	}
	return stored
}

// SetTaskStatusRaw force-sets a task status directly in the store, for
// arranging test fixtures without going through the orchestrator.
func SetTaskStatusRaw(t testing.TB, st *store.Store, taskID int64, status task.Status) {
	t.Helper()

	_, err := st.Exec(context.Background(),
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, store.FormatTime(time.Now()), taskID)
	if err != nil {
		t.Fatalf("force status: %v", err)
	}
}
