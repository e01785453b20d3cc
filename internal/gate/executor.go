package gate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"botpace/internal/eventbus"
	logx "botpace/pkg/logx"
)

// Policy bounds the retry loop. Immutable once an Executor is built.
type Policy struct {
	MaxRetries      int           // extra attempts after the first; 0 means the default 3, negative means none
	BaseDelay       time.Duration // backoff base (default 1s)
	RetryableStatus []int         // HTTP statuses worth retrying (default 429,500,502,503,504)
}

func (p Policy) withDefaults() Policy {
	// Negative means "never retry"; only the unset zero value gets the
	// default budget.
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	} else if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if len(p.RetryableStatus) == 0 {
		p.RetryableStatus = []int{429, 500, 502, 503, 504}
	}
	return p
}

// Delay is the backoff before attempt+1: BaseDelay doubled per attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay * (1 << uint(attempt))
}

// Operation is one unit of outbound work. Results stay with the caller
// (close over them); the executor only looks at the error.
type Operation func(ctx context.Context) error

// Event types published by the executor.
const (
	EventCompleted   = "send.completed"
	EventRetried     = "send.retried"
	EventRateLimited = "send.rate_limited"
	EventFailed      = "send.failed"
)

// SendEvent is the bus payload for all executor events.
type SendEvent struct {
	OpID       string
	ChatID     int64
	Attempts   int
	Kind       string // terminal classification, empty on success
	RetryAfter time.Duration
	Duration   time.Duration
	Error      string
}

// Executor runs operations through the limiter with bounded retries.
// All attempt state is local to one Execute call; concurrent calls contend
// only on the underlying buckets.
type Executor struct {
	policy    Policy
	retryable map[int]struct{}
	limiter   *Limiter
	log       logx.Logger
	bus       eventbus.Bus

	// sleep is swapped in tests to observe backoff without waiting it out.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(p Policy, limiter *Limiter, log logx.Logger, bus eventbus.Bus) *Executor {
	p = p.withDefaults()
	retryable := make(map[int]struct{}, len(p.RetryableStatus))
	for _, code := range p.RetryableStatus {
		retryable[code] = struct{}{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		policy:    p,
		retryable: retryable,
		limiter:   limiter,
		log:       log,
		bus:       bus,
		sleep:     sleepCtx,
	}
}

func (e *Executor) Policy() Policy { return e.policy }

// Execute runs op under both quotas, retrying transient failures with
// exponential backoff. On a fatal classification, or once the budget is
// exhausted, the original error is returned unwrapped. A rate-limit
// failure also depletes chatID's bucket for the reported cooldown before
// the next attempt.
func (e *Executor) Execute(ctx context.Context, chatID int64, op Operation) error {
	opID := uuid.NewString()
	start := time.Now()

	var err error
	var cls Classification
	attempts := 0
	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		attempts = attempt + 1
		if e.limiter != nil {
			if aerr := e.limiter.Acquire(ctx, chatID); aerr != nil {
				return aerr
			}
		}

		err = op(ctx)
		if err == nil {
			e.publish(EventCompleted, SendEvent{
				OpID: opID, ChatID: chatID, Attempts: attempt + 1, Duration: time.Since(start),
			})
			return nil
		}

		cls = Classify(err, e.retryable)
		if cls.Kind == RateLimited && e.limiter != nil {
			e.limiter.HandleRateLimit(chatID, cls.RetryAfter)
			e.log.Warn("send rate limited",
				logx.String("op", opID),
				logx.Int64("chat", chatID),
				logx.Duration("retry_after", cls.RetryAfter))
			e.publish(EventRateLimited, SendEvent{
				OpID: opID, ChatID: chatID, Attempts: attempt + 1,
				Kind: cls.Kind.String(), RetryAfter: cls.RetryAfter, Error: err.Error(),
			})
		}

		if !cls.Retryable() || attempt == e.policy.MaxRetries {
			break
		}

		delay := e.policy.Delay(attempt)
		e.log.Debug("send retry scheduled",
			logx.String("op", opID),
			logx.Int64("chat", chatID),
			logx.Int("attempt", attempt+2),
			logx.String("class", cls.Kind.String()),
			logx.Duration("delay", delay),
			logx.Err(err))
		e.publish(EventRetried, SendEvent{
			OpID: opID, ChatID: chatID, Attempts: attempt + 1, Kind: cls.Kind.String(), Error: err.Error(),
		})
		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	e.log.Warn("send failed",
		logx.String("op", opID),
		logx.Int64("chat", chatID),
		logx.String("class", cls.Kind.String()),
		logx.Int("attempts", attempts),
		logx.Duration("dur", time.Since(start)),
		logx.Err(err))
	e.publish(EventFailed, SendEvent{
		OpID: opID, ChatID: chatID, Attempts: attempts, Kind: cls.Kind.String(),
		Duration: time.Since(start), Error: err.Error(),
	})
	return err
}

func (e *Executor) publish(typ string, ev SendEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
