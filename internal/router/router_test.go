package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"botpace/internal/gate"
	kit "botpace/internal/transport"
	logx "botpace/pkg/logx"
)

// fakeAdapter records outbound traffic instead of hitting a platform.
type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentText
	answers []string
	sendErr error
}

type sentText struct {
	to   kit.ChatTarget
	text string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.sent = append(f.sent, sentText{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) lastSent(t *testing.T) sentText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func newTestRouter(t *testing.T) (*Router, *fakeAdapter) {
	t.Helper()
	fa := &fakeAdapter{}
	limiter := gate.NewLimiter(gate.LimiterConfig{})
	exec := gate.NewExecutor(gate.Policy{MaxRetries: 1, BaseDelay: time.Millisecond}, limiter, logx.Nop(), nil)
	return New(fa, exec, limiter, nil, nil, logx.Nop()), fa
}

func TestCommandParsing(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"/ping", "/ping"},
		{"/ping@botpace_bot", "/ping"},
		{"/stats now please", "/stats"},
		{"hello", ""},
		{"not /a command", ""},
	}
	for _, tc := range tests {
		if got := command(tc.text); got != tc.want {
			t.Fatalf("command(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestPingRepliesPong(t *testing.T) {
	r, fa := newTestRouter(t)

	r.handleMessage(context.Background(), &kit.Message{ChatID: 42, Text: "/ping"})

	got := fa.lastSent(t)
	if got.text != "pong" || got.to.ChatID != 42 {
		t.Fatalf("sent = %+v, want pong to chat 42", got)
	}
}

func TestPlainTextIsEchoed(t *testing.T) {
	r, fa := newTestRouter(t)

	r.handleMessage(context.Background(), &kit.Message{ChatID: 7, ThreadID: 3, Text: "  hello there  "})

	got := fa.lastSent(t)
	if got.text != "hello there" {
		t.Fatalf("echo = %q, want trimmed text", got.text)
	}
	if got.to.ThreadID != 3 {
		t.Fatalf("thread = %d, want 3", got.to.ThreadID)
	}
}

func TestEmptyMessageSendsNothing(t *testing.T) {
	r, fa := newTestRouter(t)

	r.handleMessage(context.Background(), &kit.Message{ChatID: 7, Text: "   "})

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.sent) != 0 {
		t.Fatalf("sent = %+v, want nothing for blank text", fa.sent)
	}
}

func TestUnknownCommandReply(t *testing.T) {
	r, fa := newTestRouter(t)

	r.handleMessage(context.Background(), &kit.Message{ChatID: 9, Text: "/frobnicate"})

	if got := fa.lastSent(t); got.text != "unknown command" {
		t.Fatalf("sent = %q", got.text)
	}
}

func TestStatsReplyIncludesLimiter(t *testing.T) {
	r, fa := newTestRouter(t)

	r.handleMessage(context.Background(), &kit.Message{ChatID: 1, Text: "/stats"})

	got := fa.lastSent(t)
	for _, want := range []string{"uptime:", "limiter:"} {
		if !strings.Contains(got.text, want) {
			t.Fatalf("stats reply %q missing %q", got.text, want)
		}
	}
}

func TestRegisteredCallbackIsAnswered(t *testing.T) {
	r, fa := newTestRouter(t)

	var gotData string
	r.RegisterCallback("confirm", func(ctx context.Context, cb *kit.Callback, ack func(string)) error {
		gotData = cb.Data
		ack("confirmed")
		return nil
	})

	r.handleCallback(context.Background(), &kit.Callback{ID: "cb1", ChatID: 5, Data: "confirm:42"})

	if gotData != "confirm:42" {
		t.Fatalf("handler saw %q", gotData)
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.answers) != 1 || fa.answers[0] != "confirmed" {
		t.Fatalf("answers = %v", fa.answers)
	}
}

func TestUnknownCallbackIsStillAnswered(t *testing.T) {
	r, fa := newTestRouter(t)

	r.handleCallback(context.Background(), &kit.Callback{ID: "cb2", ChatID: 5, Data: "mystery:1"})

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.answers) != 1 || fa.answers[0] != "unknown action" {
		t.Fatalf("answers = %v", fa.answers)
	}
}

func TestRunDrainsUpdatesUntilClosed(t *testing.T) {
	r, fa := newTestRouter(t)

	updates := make(chan kit.Update, 2)
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, Text: "/ping"}}
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 2, Text: "/ping"}}
	close(updates)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after the channel closed")
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.sent) != 2 {
		t.Fatalf("sent %d replies, want 2", len(fa.sent))
	}
}
