package task

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classify every failure the engine can surface. Callers
// disambiguate with errors.Is: a lock conflict means "retry later", an
// invalid transition or permission failure means "not allowed", not found
// means "nothing there".
var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrLockConflict       = errors.New("task locked by another user")
	ErrGuestNotPermitted  = errors.New("guest users may not modify tasks")
	ErrBundleIntegrity    = errors.New("bundle integrity violation")
	ErrNotFound           = errors.New("not found")
	ErrReviewNotPermitted = errors.New("review not permitted")
)

// Wrap builds an error message that includes component context while
// tagging it with the provided sentinel for later classification.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = errors.New("task engine failure")
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "task engine failure"
	}
	return strings.Join(parts, ": ")
}
