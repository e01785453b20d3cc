package interaction

import (
	"errors"
	"testing"
	"time"
)

// fakeClock drives the tracker without real sleeps.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker()
	tr.now = clk.now
	return tr, clk
}

func TestUnacknowledgedOverrunRaisesDeadline(t *testing.T) {
	tr, clk := newTestTracker()

	d := tr.Dispatch("buttons.confirm")
	clk.advance(3100 * time.Millisecond)

	err := tr.Finish(d)
	var de *DeadlineError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DeadlineError", err)
	}
	if de.HandlerID != "buttons.confirm" {
		t.Fatalf("handler = %q, want buttons.confirm", de.HandlerID)
	}
	if de.Elapsed != 3100*time.Millisecond {
		t.Fatalf("elapsed = %v, want 3.1s", de.Elapsed)
	}
}

func TestAcknowledgedSlowHandlerIsFine(t *testing.T) {
	tr, clk := newTestTracker()

	d := tr.Dispatch("buttons.confirm")
	clk.advance(time.Second)
	d.Acknowledge()
	clk.advance(4 * time.Second) // finishes at 5s total

	if err := tr.Finish(d); err != nil {
		t.Fatalf("err = %v, want nil for an acknowledged handler", err)
	}
}

func TestFastUnacknowledgedHandlerIsFine(t *testing.T) {
	tr, clk := newTestTracker()

	d := tr.Dispatch("buttons.cancel")
	clk.advance(2900 * time.Millisecond)

	if err := tr.Finish(d); err != nil {
		t.Fatalf("err = %v, want nil inside the window", err)
	}
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	tr, _ := newTestTracker()
	d := tr.Dispatch("h")
	d.Acknowledge()
	d.Acknowledge()
	if !d.Acknowledged() {
		t.Fatalf("expected acknowledged")
	}
	if err := tr.Finish(d); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestNilDispatchIsSafe(t *testing.T) {
	tr, _ := newTestTracker()
	var d *Dispatch
	d.Acknowledge()
	if err := tr.Finish(d); err != nil {
		t.Fatalf("err = %v, want nil for nil dispatch", err)
	}
}
