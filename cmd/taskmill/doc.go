// Command taskmill is the operator CLI for the task lifecycle engine:
// task status changes, lock management, selection, reviews, bundles,
// challenges, and maintenance.
package main
