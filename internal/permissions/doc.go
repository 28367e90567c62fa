// Package permissions evaluates whether a user may mutate tasks and
// whether they hold the elevated privilege that unlocks status changes on
// settled work.
package permissions
