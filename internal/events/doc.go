// Package events dispatches post-commit side effects to external
// collaborators: live-update broadcasting, review notifications, changeset
// matching, and scoring. Dispatch is fire-and-forget; collaborator
// failures are logged and never reach the caller of the primary mutation.
package events
