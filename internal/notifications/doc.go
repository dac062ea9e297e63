// Package notifications pushes job lifecycle events to ntfy. When no
// topic is configured every notification is a no-op, so callers never
// need to check whether notifications are enabled.
package notifications
