// Package lifecycle orchestrates status changes: permission and lock
// checks, status-machine validation, completion bookkeeping, bundle
// linkage, review requests, and the action log, all committed in one
// transaction per request. Post-commit side effects go through the event
// dispatcher and never block the mutation.
package lifecycle
