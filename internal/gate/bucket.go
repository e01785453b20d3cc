package gate

import (
	"math"
	"sync"
	"time"
)

// tokenBucket is a capped, lazily refilled permit counter.
//
// Refill happens on access: the elapsed time since lastRefill is converted
// to tokens at refillRate and added, capped at capacity. A server-imposed
// cooldown is encoded by moving lastRefill into the future (see
// Limiter.HandleRateLimit): the negative elapsed on the next access drags
// tokens below zero, so the bucket stays under the grant threshold until
// the wall clock passes the cooldown point.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   int
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64, now time.Time) *tokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: now,
	}
}

// take refills the bucket and deducts one token if at least one is
// available. A denied caller should wait the returned interval before
// asking again.
func (b *tokenBucket) take(now time.Time) (granted bool, retryIn time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, b.pollInterval()
}

// refillLocked adds elapsed×rate to tokens, capped at capacity. Elapsed may
// be negative while a cooldown holds lastRefill in the future; the deficit
// is carried in the token count, so tokens only clamp upward at capacity.
func (b *tokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.lastRefill = now
}

// pollInterval is the wait between grant attempts: the time one token takes
// to accrue, rounded up to a whole millisecond.
func (b *tokenBucket) pollInterval() time.Duration {
	ms := math.Ceil(1000 / b.refillRate)
	return time.Duration(ms) * time.Millisecond
}

// block empties the bucket and pushes lastRefill past now, so refill math
// keeps the bucket under one token until the cooldown expires.
func (b *tokenBucket) block(now time.Time, cooldown time.Duration) {
	b.mu.Lock()
	b.tokens = 0
	b.lastRefill = now.Add(cooldown)
	b.mu.Unlock()
}

// reset restores a full bucket. Test isolation only.
func (b *tokenBucket) reset(now time.Time) {
	b.mu.Lock()
	b.tokens = float64(b.capacity)
	b.lastRefill = now
	b.mu.Unlock()
}

// level reports the token count the bucket would hold at now, without
// consuming the refill.
func (b *tokenBucket) level(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tokens + now.Sub(b.lastRefill).Seconds()*b.refillRate
	if t > float64(b.capacity) {
		t = float64(b.capacity)
	}
	return t
}
