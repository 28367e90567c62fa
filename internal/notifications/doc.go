// Package notifications delivers review notifications over ntfy. When no
// topic is configured a noop implementation is returned, so callers never
// branch on whether notifications are enabled.
package notifications
