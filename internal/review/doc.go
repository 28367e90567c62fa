// Package review tracks the approval pass layered on top of task
// completion, plus the optional meta-review pass layered on top of that.
// Review records exist only while a review is wanted; clearing one deletes
// the record, while the history log is append-only and never rewritten.
package review
