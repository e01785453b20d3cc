package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"botpace/internal/eventbus"
	logx "botpace/pkg/logx"
)

func TestPolicyDelayDoubles(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, w := range want {
		if d := p.Delay(attempt); d != w {
			t.Fatalf("Delay(%d) = %v, want %v", attempt, d, w)
		}
	}
}

func TestPolicyMaxRetriesNormalization(t *testing.T) {
	if got := (Policy{}).withDefaults().MaxRetries; got != 3 {
		t.Fatalf("unset MaxRetries = %d, want default 3", got)
	}
	if got := (Policy{MaxRetries: -1}).withDefaults().MaxRetries; got != 0 {
		t.Fatalf("negative MaxRetries = %d, want 0", got)
	}
	if got := (Policy{MaxRetries: 5}).withDefaults().MaxRetries; got != 5 {
		t.Fatalf("explicit MaxRetries = %d, want 5", got)
	}
}

func TestExecuteNegativeMaxRetriesNeverRetries(t *testing.T) {
	e, slept := newTestExecutor(Policy{MaxRetries: -1, BaseDelay: time.Second}, nil)

	calls := 0
	err := e.Execute(context.Background(), 1, func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 500}
	})

	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 with retries disabled", calls)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Fatalf("err = %v, want the original 500", err)
	}
	if len(*slept) != 0 {
		t.Fatalf("slept %v, want no backoff", *slept)
	}
}

// stubbed executor: no limiter, recorded sleeps.
func newTestExecutor(p Policy, bus eventbus.Bus) (*Executor, *[]time.Duration) {
	e := NewExecutor(p, nil, logx.Nop(), bus)
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestExecuteRetriesThenReturnsOriginalError(t *testing.T) {
	e, slept := newTestExecutor(Policy{MaxRetries: 2, BaseDelay: time.Second}, nil)

	boom := &NetworkError{Op: "send", Err: errors.New("reset")}
	calls := 0
	err := e.Execute(context.Background(), 1, func(ctx context.Context) error {
		calls++
		return boom
	})

	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (maxRetries=2)", calls)
	}
	if err != boom {
		t.Fatalf("err = %v, want the original error unwrapped", err)
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	} else {
		for i := range want {
			if (*slept)[i] != want[i] {
				t.Fatalf("slept %v, want %v", *slept, want)
			}
		}
	}
}

func TestExecuteFatalFailsFast(t *testing.T) {
	e, slept := newTestExecutor(Policy{MaxRetries: 3, BaseDelay: time.Second}, nil)

	forbidden := &StatusError{Code: 403}
	calls := 0
	err := e.Execute(context.Background(), 1, func(ctx context.Context) error {
		calls++
		return forbidden
	})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for a fatal error", calls)
	}
	if err != forbidden {
		t.Fatalf("err = %v, want the original error unwrapped", err)
	}
	if len(*slept) != 0 {
		t.Fatalf("slept %v, want no backoff for a fatal error", *slept)
	}
}

func TestExecuteSucceedsMidway(t *testing.T) {
	e, _ := newTestExecutor(Policy{MaxRetries: 3, BaseDelay: time.Second}, nil)

	calls := 0
	err := e.Execute(context.Background(), 1, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Code: 502}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want success on third attempt", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestExecuteRateLimitDepletesChatBucket(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{})
	e := NewExecutor(Policy{MaxRetries: 1, BaseDelay: time.Millisecond}, limiter, logx.Nop(), nil)

	const cooldown = 300 * time.Millisecond
	calls := 0
	start := time.Now()
	err := e.Execute(context.Background(), 5, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitError{RetryAfter: cooldown}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want success after cooldown", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	// The second attempt had to wait out the server cooldown.
	if elapsed := time.Since(start); elapsed < cooldown {
		t.Fatalf("finished in %v, expected at least the %v cooldown", elapsed, cooldown)
	}
}

func TestExecutePublishesOutcomes(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	e, _ := newTestExecutor(Policy{MaxRetries: 1, BaseDelay: time.Second}, bus)

	calls := 0
	err := e.Execute(context.Background(), 3, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{Code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", types)
		}
	}
	if types[0] != EventRetried || types[1] != EventCompleted {
		t.Fatalf("events = %v, want [%s %s]", types, EventRetried, EventCompleted)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	e := NewExecutor(Policy{MaxRetries: 3, BaseDelay: time.Hour}, nil, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := e.Execute(ctx, 1, func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled from the backoff sleep", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
