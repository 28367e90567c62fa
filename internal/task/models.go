package task

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusCreated       Status = "created"
	StatusFixed         Status = "fixed"
	StatusFalsePositive Status = "false_positive"
	StatusSkipped       Status = "skipped"
	StatusDeleted       Status = "deleted"
	StatusAlreadyFixed  Status = "already_fixed"
	StatusTooHard       Status = "too_hard"
	StatusAnswered      Status = "answered"
	StatusValidated     Status = "validated"
	StatusDisabled      Status = "disabled"
)

var allStatuses = []Status{
	StatusCreated,
	StatusFixed,
	StatusFalsePositive,
	StatusSkipped,
	StatusDeleted,
	StatusAlreadyFixed,
	StatusTooHard,
	StatusAnswered,
	StatusValidated,
	StatusDisabled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// completedStatuses are statuses that represent a user having finished the
// task in some form. Reaching one sets mapped_on and can trigger a review
// request; resetting to created clears both.
var completedStatuses = map[Status]struct{}{
	StatusFixed:         {},
	StatusFalsePositive: {},
	StatusAlreadyFixed:  {},
	StatusTooHard:       {},
	StatusAnswered:      {},
	StatusValidated:     {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsCompleted reports whether a status counts as a completion.
func (s Status) IsCompleted() bool {
	_, ok := completedStatuses[s]
	return ok
}

// Priority is the tier used to order work distribution.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityMedium Priority = 1
	PriorityLow    Priority = 2
)

// PriorityOrder lists tiers from most to least urgent, the order the
// selection fallback walks them in.
var PriorityOrder = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// ParsePriority converts a tier name into a Priority.
func ParsePriority(value string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return PriorityHigh, true
	case "medium":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	default:
		return PriorityMedium, false
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "medium"
	}
}

// ReviewStatus tracks the review pass layered on top of completion.
type ReviewStatus string

const (
	ReviewRequested             ReviewStatus = "requested"
	ReviewApproved              ReviewStatus = "approved"
	ReviewRejected              ReviewStatus = "rejected"
	ReviewAssisted              ReviewStatus = "assisted"
	ReviewDisputed              ReviewStatus = "disputed"
	ReviewUnnecessary           ReviewStatus = "unnecessary"
	ReviewApprovedWithRevisions ReviewStatus = "approved_with_revisions"
	ReviewApprovedWithFixes     ReviewStatus = "approved_with_fixes_after_revisions"

	// ReviewNotSet is the meta-review sentinel: a review record exists but
	// no meta-review decision has been made yet. A task with no review
	// record at all has no ReviewFields instead.
	ReviewNotSet ReviewStatus = "not_set"
)

var reviewStatusSet = map[ReviewStatus]struct{}{
	ReviewRequested:             {},
	ReviewApproved:              {},
	ReviewRejected:              {},
	ReviewAssisted:              {},
	ReviewDisputed:              {},
	ReviewUnnecessary:           {},
	ReviewApprovedWithRevisions: {},
	ReviewApprovedWithFixes:     {},
	ReviewNotSet:                {},
}

// ParseReviewStatus converts a string into a known ReviewStatus.
func ParseReviewStatus(value string) (ReviewStatus, bool) {
	normalized := ReviewStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := reviewStatusSet[normalized]
	return normalized, ok
}

// ReviewFields is the embedded review record for a task. It exists only if
// a review was requested at some point; clearing a review deletes the
// record outright rather than nulling it.
type ReviewFields struct {
	TaskID              int64
	Status              ReviewStatus
	RequestedBy         int64
	ReviewedBy          *int64
	ReviewedAt          *time.Time
	StartedAt           *time.Time
	ClaimedBy           *int64
	ClaimedAt           *time.Time
	MetaStatus          ReviewStatus
	MetaReviewedBy      *int64
	MetaReviewedAt      *time.Time
	AdditionalReviewers []int64
}

// Task is the unit of crowd-sourced editing work.
type Task struct {
	ID                  int64
	ChallengeID         int64
	Name                string
	Status              Status
	Priority            Priority
	GeometryJSON        string
	Lon                 float64
	Lat                 float64
	Tags                []string
	MappedOn            *time.Time
	CompletedBy         *int64
	CompletedTimeSpent  time.Duration
	CompletionResponses string
	BundleID            string
	BundlePrimary       bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Review              *ReviewFields
}

// HasCooperativeWork reports whether the task geometry embeds a cooperative
// work payload that clients must branch on.
func (t *Task) HasCooperativeWork() bool {
	if t == nil || t.GeometryJSON == "" {
		return false
	}
	var probe struct {
		CooperativeWork json.RawMessage `json:"cooperativeWork"`
	}
	if err := json.Unmarshal([]byte(t.GeometryJSON), &probe); err != nil {
		return false
	}
	return len(probe.CooperativeWork) > 0
}

// User identifies an acting user for permission and attribution purposes.
type User struct {
	ID       int64
	Name     string
	Guest    bool
	Elevated bool
}

// Action is one append-only entry in the task action log. The selection
// engine's anti-repeat window and the CLI history view are both built on it.
type Action struct {
	ID        int64
	TaskID    int64
	UserID    int64
	OldStatus Status
	NewStatus Status
	CreatedAt time.Time
}

// ReviewHistoryEntry is one append-only entry in the review history log.
type ReviewHistoryEntry struct {
	ID           int64
	TaskID       int64
	ActorID      int64
	ReviewStatus ReviewStatus
	Meta         bool
	CreatedAt    time.Time
}
