package task_test

import (
	"testing"

	"taskmill/internal/task"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		input string
		want  task.Status
		ok    bool
	}{
		{"created", task.StatusCreated, true},
		{" Fixed ", task.StatusFixed, true},
		{"FALSE_POSITIVE", task.StatusFalsePositive, true},
		{"too_hard", task.StatusTooHard, true},
		{"", "", false},
		{"bogus", "", false},
	}
	for _, tc := range cases {
		got, ok := task.ParseStatus(tc.input)
		if ok != tc.ok {
			t.Fatalf("ParseStatus(%q) ok = %v, want %v", tc.input, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("ParseStatus(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	if p, ok := task.ParsePriority("High"); !ok || p != task.PriorityHigh {
		t.Fatalf("ParsePriority(High) = %v, %v", p, ok)
	}
	if _, ok := task.ParsePriority("urgent"); ok {
		t.Fatal("expected unknown priority to fail")
	}
	if task.PriorityLow.String() != "low" {
		t.Fatalf("unexpected priority name %q", task.PriorityLow.String())
	}
}

func TestStatusIsCompleted(t *testing.T) {
	completed := []task.Status{
		task.StatusFixed, task.StatusFalsePositive, task.StatusAlreadyFixed,
		task.StatusTooHard, task.StatusAnswered, task.StatusValidated,
	}
	for _, s := range completed {
		if !s.IsCompleted() {
			t.Errorf("%s should count as completed", s)
		}
	}
	for _, s := range []task.Status{task.StatusCreated, task.StatusSkipped, task.StatusDeleted, task.StatusDisabled} {
		if s.IsCompleted() {
			t.Errorf("%s should not count as completed", s)
		}
	}
}

func TestHasCooperativeWork(t *testing.T) {
	tk := &task.Task{GeometryJSON: `{"features":[],"cooperativeWork":{"meta":{"version":2}}}`}
	if !tk.HasCooperativeWork() {
		t.Fatal("expected cooperative work to be detected")
	}
	tk.GeometryJSON = `{"features":[]}`
	if tk.HasCooperativeWork() {
		t.Fatal("did not expect cooperative work")
	}
	tk.GeometryJSON = "not json"
	if tk.HasCooperativeWork() {
		t.Fatal("invalid geometry should not report cooperative work")
	}
}
