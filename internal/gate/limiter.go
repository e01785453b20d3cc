package gate

import (
	"context"
	"sync"
	"time"
)

// Telegram allows roughly 30 messages/second bot-wide and tighter budgets
// per chat; the defaults stay under both with headroom for bursts.
const (
	defaultGlobalCapacity = 50
	defaultGlobalRefill   = 50 // tokens per second
	defaultChatCapacity   = 5
	defaultChatRefill     = 5
)

type LimiterConfig struct {
	GlobalCapacity int
	GlobalRefill   float64 // tokens per second
	ChatCapacity   int
	ChatRefill     float64
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.GlobalCapacity <= 0 {
		c.GlobalCapacity = defaultGlobalCapacity
	}
	if c.GlobalRefill <= 0 {
		c.GlobalRefill = defaultGlobalRefill
	}
	if c.ChatCapacity <= 0 {
		c.ChatCapacity = defaultChatCapacity
	}
	if c.ChatRefill <= 0 {
		c.ChatRefill = defaultChatRefill
	}
	return c
}

// Limiter owns one global bucket plus one bucket per chat, created on first
// use and never removed. Acquire takes global first, then the chat bucket,
// so the aggregate bound holds even with many chats active at once (at the
// cost of one chat occasionally waiting behind another's global usage).
type Limiter struct {
	cfg    LimiterConfig
	global *tokenBucket

	mu    sync.Mutex
	chats map[int64]*tokenBucket

	// now is swapped in tests.
	now func() time.Time
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	cfg = cfg.withDefaults()
	now := time.Now
	return &Limiter{
		cfg:    cfg,
		global: newTokenBucket(cfg.GlobalCapacity, cfg.GlobalRefill, now()),
		chats:  map[int64]*tokenBucket{},
		now:    now,
	}
}

// Acquire blocks until one global token and one token for chatID are both
// granted, or ctx is cancelled. Waiters poll; there is no FIFO order across
// concurrent acquirers.
func (l *Limiter) Acquire(ctx context.Context, chatID int64) error {
	if err := l.acquire(ctx, l.global); err != nil {
		return err
	}
	return l.acquire(ctx, l.chat(chatID))
}

func (l *Limiter) acquire(ctx context.Context, b *tokenBucket) error {
	for {
		granted, retryIn := b.take(l.now())
		if granted {
			return nil
		}
		t := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}

// HandleRateLimit empties chatID's bucket and holds it empty for the
// server-reported cooldown. Waiters keep polling at the bucket's normal
// interval until the cooldown passes.
func (l *Limiter) HandleRateLimit(chatID int64, retryAfter time.Duration) {
	if retryAfter < 0 {
		retryAfter = 0
	}
	l.chat(chatID).block(l.now(), retryAfter)
}

func (l *Limiter) chat(chatID int64) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.chats[chatID]
	if b == nil {
		b = newTokenBucket(l.cfg.ChatCapacity, l.cfg.ChatRefill, l.now())
		l.chats[chatID] = b
	}
	return b
}

// Reset refills every bucket. Test isolation only; never used in normal
// operation.
func (l *Limiter) Reset() {
	now := l.now()
	l.global.reset(now)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.chats {
		b.reset(now)
	}
}

// Stats is a point-in-time view for /stats and periodic logging.
type Stats struct {
	GlobalTokens float64
	Chats        int
	Starved      int // chat buckets currently under one token
}

func (l *Limiter) Stats() Stats {
	now := l.now()
	st := Stats{GlobalTokens: l.global.level(now)}
	l.mu.Lock()
	defer l.mu.Unlock()
	st.Chats = len(l.chats)
	for _, b := range l.chats {
		if b.level(now) < 1 {
			st.Starved++
		}
	}
	return st
}
