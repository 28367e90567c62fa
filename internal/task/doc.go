// Package task defines the core domain model for units of crowd-sourced
// editing work: statuses, priorities, review state, and the pure status
// progression rules that every mutation path validates against.
package task
