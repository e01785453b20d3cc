// Package interaction tracks whether inbound handlers committed to a
// response before the platform's acknowledgment window closed.
package interaction

import (
	"fmt"
	"sync/atomic"
	"time"
)

// AckWindow is how long the platform keeps a callback token answerable.
const AckWindow = 3 * time.Second

// DeadlineError reports a handler that finished without acknowledging
// inside the window. Purely diagnostic: by the time it is raised the
// platform has almost certainly invalidated the token already.
type DeadlineError struct {
	HandlerID string
	Elapsed   time.Duration
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("handler %s missed the %s acknowledgment window (took %s)", e.HandlerID, AckWindow, e.Elapsed)
}

// EventDeadlineMissed is the bus type for MissedEvent payloads.
const EventDeadlineMissed = "interaction.deadline_missed"

// MissedEvent is published when a handler misses the acknowledgment
// window. Observability only; nothing reacts to it on the hot path.
type MissedEvent struct {
	HandlerID string
	ChatID    int64
	Elapsed   time.Duration
	Error     string
}

// Dispatch is one handler invocation's deadline record. It is created by
// Tracker.Dispatch, optionally acknowledged during the handler's run, and
// read once by Tracker.Finish.
type Dispatch struct {
	handlerID    string
	dispatchedAt time.Time
	acked        atomic.Bool
}

// Acknowledge marks that the handler committed to a response. Safe to call
// from any goroutine the handler spawned; later calls are no-ops.
func (d *Dispatch) Acknowledge() {
	if d != nil {
		d.acked.Store(true)
	}
}

// Acknowledged reports whether Acknowledge was called.
func (d *Dispatch) Acknowledged() bool { return d != nil && d.acked.Load() }

// Tracker stamps dispatch times and checks them after handlers return.
// It cannot compel a handler to acknowledge; it only observes.
type Tracker struct {
	window time.Duration

	// now is swapped in tests.
	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{window: AckWindow, now: time.Now}
}

// Dispatch records the start of a handler invocation.
func (t *Tracker) Dispatch(handlerID string) *Dispatch {
	return &Dispatch{handlerID: handlerID, dispatchedAt: t.now()}
}

// Finish checks the record after the handler completed (successfully or
// not). It returns a *DeadlineError iff the handler never acknowledged and
// ran past the window; the record is not retained either way.
func (t *Tracker) Finish(d *Dispatch) error {
	if d == nil {
		return nil
	}
	elapsed := t.now().Sub(d.dispatchedAt)
	if d.Acknowledged() || elapsed <= t.window {
		return nil
	}
	return &DeadlineError{HandlerID: d.handlerID, Elapsed: elapsed}
}
