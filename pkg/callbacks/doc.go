// Package callbacks is the per-user event callback table.
//
// Callbacks are keyed by user identity and event id. Dispatch never runs a
// handler on the caller's goroutine: every invocation is submitted to a
// worker pool. Messages without a user identity use DefaultUserID, so the
// table behaves as a single-tenant map when authentication is off.
package callbacks
