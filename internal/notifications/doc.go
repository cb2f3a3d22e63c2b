// Package notifications publishes transfer milestones to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to check whether notifications are enabled. Delivery
// failures are returned to the caller, which logs them; they never affect a
// transfer.
package notifications
