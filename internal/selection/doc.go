// Package selection chooses the next tasks to hand to a requesting user.
// It resolves a candidate challenge, builds the eligible set excluding
// locked and recently acted-on tasks, applies tag, name, and priority
// filters, and orders results by proximity, status, and random tie-break.
package selection
