// Package gate is the outbound governor for platform API calls.
//
// It enforces two independent quotas (a global bucket shared by every chat
// and a lazily created per-chat bucket), retries transient failures with
// bounded exponential backoff, and translates platform errors into a small
// set of classifications that drive the retry decision.
//
// The package owns no transport state. Callers hand Execute an opaque
// operation; gate only observes the error it returns.
package gate
