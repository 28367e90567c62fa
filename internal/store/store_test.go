package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskmill/internal/store"
	"taskmill/internal/task"
	"taskmill/internal/testsupport"
)

func TestTaskInsertFetchUpdate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ch := testsupport.NewChallenge(t, st, "round-trip")
	ctx := context.Background()

	id, err := store.InsertTask(ctx, st.Querier(), &task.Task{
		ChallengeID:  ch.ID,
		Name:         "crossing-17",
		Status:       task.StatusCreated,
		Priority:     task.PriorityHigh,
		GeometryJSON: `{"type":"Point","coordinates":[13.4,52.5]}`,
		Lon:          13.4,
		Lat:          52.5,
		Tags:         []string{"Highway", " crossing "},
	})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	got, err := store.TaskByID(ctx, st.Querier(), id)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got == nil {
		t.Fatal("inserted task not found")
	}
	if got.Status != task.StatusCreated || got.Priority != task.PriorityHigh {
		t.Fatalf("status/priority = %s/%s", got.Status, got.Priority)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "highway" || got.Tags[1] != "crossing" {
		t.Fatalf("tags = %v, want normalized [highway crossing]", got.Tags)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be populated")
	}

	completedBy := int64(42)
	mapped := time.Now().UTC().Truncate(time.Millisecond)
	got.Status = task.StatusFixed
	got.CompletedBy = &completedBy
	got.CompletedTimeSpent = 90 * time.Second
	got.MappedOn = &mapped
	if err := store.UpdateTask(ctx, st.Querier(), got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	stored, err := store.TaskByID(ctx, st.Querier(), id)
	if err != nil {
		t.Fatalf("TaskByID after update: %v", err)
	}
	if stored.Status != task.StatusFixed {
		t.Fatalf("status = %s, want %s", stored.Status, task.StatusFixed)
	}
	if stored.CompletedBy == nil || *stored.CompletedBy != completedBy {
		t.Fatal("completed_by not persisted")
	}
	if stored.CompletedTimeSpent != 90*time.Second {
		t.Fatalf("time spent = %s, want 90s", stored.CompletedTimeSpent)
	}
	if stored.MappedOn == nil || !stored.MappedOn.Equal(mapped) {
		t.Fatalf("mapped_on = %v, want %v", stored.MappedOn, mapped)
	}
}

func TestTaskByIDMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	got, err := store.TaskByID(context.Background(), st.Querier(), 9999)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for a missing task")
	}
}

func TestUpdateTaskMissingRowErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	err := store.UpdateTask(context.Background(), st.Querier(), &task.Task{ID: 9999, Name: "ghost"})
	if err == nil {
		t.Fatal("expected error updating a missing row")
	}
}

func TestTasksByIDsPreservesOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ch := testsupport.NewChallenge(t, st, "ordering")

	a := testsupport.NewTask(t, st, ch.ID, "a", task.StatusCreated)
	b := testsupport.NewTask(t, st, ch.ID, "b", task.StatusCreated)
	c := testsupport.NewTask(t, st, ch.ID, "c", task.StatusCreated)

	got, err := store.TasksByIDs(context.Background(), st.Querier(), []int64{c.ID, a.ID, 9999, b.ID})
	if err != nil {
		t.Fatalf("TasksByIDs: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("tasks = %d, want 3 (missing ids skipped)", len(got))
	}
	if got[0].ID != c.ID || got[1].ID != a.ID || got[2].ID != b.ID {
		t.Fatalf("order = [%d %d %d], want [%d %d %d]",
			got[0].ID, got[1].ID, got[2].ID, c.ID, a.ID, b.ID)
	}
}

func TestTasksByBundle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ch := testsupport.NewChallenge(t, st, "bundles")
	ctx := context.Background()

	member := testsupport.NewTask(t, st, ch.ID, "member", task.StatusCreated)
	primary := testsupport.NewTask(t, st, ch.ID, "primary", task.StatusCreated)
	outsider := testsupport.NewTask(t, st, ch.ID, "outsider", task.StatusCreated)

	primary.BundleID = "bundle-1"
	primary.BundlePrimary = true
	member.BundleID = "bundle-1"
	for _, tk := range []*task.Task{primary, member} {
		if err := store.UpdateTask(ctx, st.Querier(), tk); err != nil {
			t.Fatalf("UpdateTask: %v", err)
		}
	}

	got, err := store.TasksByBundle(ctx, st.Querier(), "bundle-1")
	if err != nil {
		t.Fatalf("TasksByBundle: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("members = %d, want 2", len(got))
	}
	for _, tk := range got {
		if tk.ID == outsider.ID {
			t.Fatal("outsider must not appear in bundle members")
		}
		if tk.ID == primary.ID && !tk.BundlePrimary {
			t.Fatal("primary flag lost on round trip")
		}
	}
}

func TestActionsAppendAndList(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ch := testsupport.NewChallenge(t, st, "actions")
	tk := testsupport.NewTask(t, st, ch.ID, "logged", task.StatusCreated)
	ctx := context.Background()

	steps := []struct {
		oldStatus task.Status
		newStatus task.Status
	}{
		{task.StatusCreated, task.StatusSkipped},
		{task.StatusSkipped, task.StatusFixed},
	}
	for _, step := range steps {
		err := store.AppendAction(ctx, st.Querier(), task.Action{
			TaskID:    tk.ID,
			UserID:    7,
			OldStatus: step.oldStatus,
			NewStatus: step.newStatus,
		})
		if err != nil {
			t.Fatalf("AppendAction: %v", err)
		}
	}

	actions, err := store.ActionsForTask(ctx, st.Querier(), tk.ID, 10)
	if err != nil {
		t.Fatalf("ActionsForTask: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(actions))
	}
	// Most recent first.
	if actions[0].NewStatus != task.StatusFixed || actions[1].NewStatus != task.StatusSkipped {
		t.Fatalf("order = [%s %s], want [fixed skipped]", actions[0].NewStatus, actions[1].NewStatus)
	}
	if actions[0].CreatedAt.IsZero() {
		t.Fatal("action timestamp should be populated")
	}
}

func TestStatsByChallenge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	first := testsupport.NewChallenge(t, st, "stats-a")
	second := testsupport.NewChallenge(t, st, "stats-b")
	ctx := context.Background()

	testsupport.NewTask(t, st, first.ID, "t1", task.StatusCreated)
	testsupport.NewTask(t, st, first.ID, "t2", task.StatusFixed)
	testsupport.NewTask(t, st, first.ID, "t3", task.StatusFixed)
	testsupport.NewTask(t, st, second.ID, "t4", task.StatusSkipped)

	scoped, err := store.StatsByChallenge(ctx, st.Querier(), first.ID)
	if err != nil {
		t.Fatalf("StatsByChallenge: %v", err)
	}
	if scoped[task.StatusFixed] != 2 || scoped[task.StatusCreated] != 1 {
		t.Fatalf("scoped stats = %v", scoped)
	}
	if scoped[task.StatusSkipped] != 0 {
		t.Fatal("scoped stats must exclude other challenges")
	}

	global, err := store.StatsByChallenge(ctx, st.Querier(), 0)
	if err != nil {
		t.Fatalf("StatsByChallenge global: %v", err)
	}
	if global[task.StatusSkipped] != 1 {
		t.Fatalf("global stats = %v", global)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ch := testsupport.NewChallenge(t, st, "rollback")
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.InTx(ctx, func(q store.Querier) error {
		if _, err := store.InsertTask(ctx, q, &task.Task{ChallengeID: ch.ID, Name: "doomed"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}

	tasks, err := store.TasksByChallenge(ctx, st.Querier(), ch.ID)
	if err != nil {
		t.Fatalf("TasksByChallenge: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("rolled-back insert is visible: %d rows", len(tasks))
	}
}

func TestTagHelpers(t *testing.T) {
	joined := store.JoinTags([]string{" Highway", "", "CROSSING "})
	if joined != "highway,crossing" {
		t.Fatalf("JoinTags = %q", joined)
	}
	if tags := store.SplitTags(""); tags != nil {
		t.Fatalf("SplitTags empty = %v", tags)
	}
	if got := store.MakePlaceholders(3); got != "?,?,?" {
		t.Fatalf("MakePlaceholders = %q", got)
	}
}
