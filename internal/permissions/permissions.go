package permissions

import (
	"taskmill/internal/task"
)

// Evaluator is the permission boundary consulted before any mutation.
type Evaluator interface {
	HasWriteAccess(t *task.Task, user task.User) bool
	IsElevated(user task.User) bool
}

// Default applies the engine's built-in policy: guests get no write access,
// elevated users may write anywhere, everyone else may write to tasks.
type Default struct{}

// HasWriteAccess reports whether user may mutate t.
func (Default) HasWriteAccess(t *task.Task, user task.User) bool {
	if user.Guest {
		return false
	}
	return true
}

// IsElevated reports whether user holds elevated write privilege.
func (Default) IsElevated(user task.User) bool {
	return user.Elevated
}

// AllowChange computes the status machine's change privilege: the original
// completer may self-correct during a revision cycle, and elevated users
// may always change.
func AllowChange(eval Evaluator, t *task.Task, user task.User) bool {
	if eval != nil && eval.IsElevated(user) {
		return true
	}
	return t != nil && t.CompletedBy != nil && *t.CompletedBy == user.ID
}
