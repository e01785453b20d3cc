// Package router dispatches inbound updates. Every outbound reply goes
// through the gate executor; every callback handler runs under the
// interaction deadline tracker.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"botpace/internal/eventbus"
	"botpace/internal/gate"
	"botpace/internal/interaction"
	"botpace/internal/journal"
	kit "botpace/internal/transport"
	logx "botpace/pkg/logx"
)

// CallbackHandler processes one inline-button press. Calling ack commits
// to a response (it answers the callback and satisfies the deadline
// tracker); handlers that never ack are reported when they overrun the
// acknowledgment window.
type CallbackHandler func(ctx context.Context, cb *kit.Callback, ack func(text string)) error

type Router struct {
	adapter kit.Adapter
	exec    *gate.Executor
	tracker *interaction.Tracker
	bus     eventbus.Bus
	limiter *gate.Limiter
	journal *journal.Store
	log     logx.Logger
	started time.Time

	mu        sync.Mutex
	callbacks map[string]CallbackHandler
}

func New(adapter kit.Adapter, exec *gate.Executor, limiter *gate.Limiter, js *journal.Store, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter:   adapter,
		exec:      exec,
		tracker:   interaction.NewTracker(),
		bus:       bus,
		limiter:   limiter,
		journal:   js,
		log:       log,
		started:   time.Now(),
		callbacks: map[string]CallbackHandler{},
	}
}

// RegisterCallback installs a handler for callback data starting with
// prefix (up to the first ':').
func (r *Router) RegisterCallback(prefix string, h CallbackHandler) {
	r.mu.Lock()
	r.callbacks[prefix] = h
	r.mu.Unlock()
}

// Run consumes updates until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			switch up.Kind {
			case kit.UpdateMessage:
				if up.Message != nil {
					r.handleMessage(ctx, up.Message)
				}
			case kit.UpdateCallback:
				if up.Callback != nil {
					r.handleCallback(ctx, up.Callback)
				}
			}
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}

	switch command(text) {
	case "/ping":
		r.reply(ctx, to, "pong")
	case "/stats":
		r.reply(ctx, to, r.statsText(ctx))
	case "":
		// Plain text: echo it back, governed like any other send.
		if text != "" {
			r.reply(ctx, to, text)
		}
	default:
		r.reply(ctx, to, "unknown command")
	}
}

// command extracts a leading slash-command, stripping any @botname suffix.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	err := r.exec.Execute(ctx, to.ChatID, func(ctx context.Context) error {
		_, err := r.adapter.SendText(ctx, to, text, nil)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		r.log.Warn("reply failed", logx.Int64("chat", to.ChatID), logx.Err(err))
	}
}

func (r *Router) statsText(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %s\n", time.Since(r.started).Round(time.Second))

	if r.limiter != nil {
		st := r.limiter.Stats()
		fmt.Fprintf(&b, "limiter: global=%.1f tokens, chats=%d, starved=%d\n",
			st.GlobalTokens, st.Chats, st.Starved)
	}
	if r.journal != nil {
		c, err := r.journal.CountsSince(ctx, time.Now().Add(-24*time.Hour))
		if err == nil {
			fmt.Fprintf(&b, "last 24h: completed=%d retried=%d rate_limited=%d failed=%d",
				c.Completed, c.Retried, c.RateLimited, c.Failed)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	prefix := cb.Data
	if i := strings.IndexByte(prefix, ':'); i >= 0 {
		prefix = prefix[:i]
	}
	r.mu.Lock()
	h := r.callbacks[prefix]
	r.mu.Unlock()

	handlerID := prefix
	if handlerID == "" {
		handlerID = "callback"
	}

	d := r.tracker.Dispatch(handlerID)
	ack := func(text string) {
		d.Acknowledge()
		err := r.exec.Execute(ctx, cb.ChatID, func(ctx context.Context) error {
			return r.adapter.AnswerCallback(ctx, cb.ID, text)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("callback answer failed", logx.String("handler", handlerID), logx.Err(err))
		}
	}

	var herr error
	if h == nil {
		ack("unknown action")
	} else {
		herr = h(ctx, cb, ack)
	}

	if derr := r.tracker.Finish(d); derr != nil {
		var miss *interaction.DeadlineError
		if errors.As(derr, &miss) {
			r.log.Warn("callback handler missed ack window",
				logx.String("handler", miss.HandlerID),
				logx.Duration("elapsed", miss.Elapsed),
				logx.Err(herr))
			if r.bus != nil {
				errText := ""
				if herr != nil {
					errText = herr.Error()
				}
				r.bus.Publish(eventbus.Event{
					Type: interaction.EventDeadlineMissed,
					Data: interaction.MissedEvent{
						HandlerID: miss.HandlerID,
						ChatID:    cb.ChatID,
						Elapsed:   miss.Elapsed,
						Error:     errText,
					},
				})
			}
		}
	} else if herr != nil {
		r.log.Warn("callback handler failed", logx.String("handler", handlerID), logx.Err(herr))
	}
}
