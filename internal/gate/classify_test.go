package gate

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

var defaultRetryable = map[int]struct{}{
	429: {}, 500: {}, 502: {}, 503: {}, 504: {},
}

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limit", &RateLimitError{RetryAfter: 5 * time.Second}, RateLimited},
		{"wrapped rate limit", fmt.Errorf("send: %w", &RateLimitError{RetryAfter: time.Second}), RateLimited},
		{"network variant", &NetworkError{Op: "send", Err: errors.New("boom")}, NetworkTransient},
		{"conn reset", fmt.Errorf("do: %w", syscall.ECONNRESET), NetworkTransient},
		{"conn refused", syscall.ECONNREFUSED, NetworkTransient},
		{"timed out", syscall.ETIMEDOUT, NetworkTransient},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.org", IsNotFound: true}, NetworkTransient},
		{"dns try again", &net.DNSError{Err: "server misbehaving", Name: "api.example.org", IsTemporary: true}, NetworkTransient},
		{"retryable status", &StatusError{Code: 503}, HTTPTransient},
		{"retryable 429 status", &StatusError{Code: 429}, HTTPTransient},
		{"forbidden", &StatusError{Code: 403}, Fatal},
		{"bad request", &StatusError{Code: 400}, Fatal},
		{"plain error", errors.New("nope"), Fatal},
		{"nil-ish", fmt.Errorf("wrapped: %w", errors.New("inner")), Fatal},
	}
	for _, tc := range tests {
		got := Classify(tc.err, defaultRetryable)
		if got.Kind != tc.want {
			t.Fatalf("%s: Classify kind = %v, want %v", tc.name, got.Kind, tc.want)
		}
	}
}

func TestClassifyCarriesDetails(t *testing.T) {
	c := Classify(&RateLimitError{RetryAfter: 7 * time.Second}, defaultRetryable)
	if c.RetryAfter != 7*time.Second {
		t.Fatalf("RetryAfter = %v, want 7s", c.RetryAfter)
	}

	c = Classify(&StatusError{Code: 502}, defaultRetryable)
	if c.Status != 502 {
		t.Fatalf("Status = %d, want 502", c.Status)
	}
}

func TestClassifyRateLimitWinsOverStatus(t *testing.T) {
	// A flood error that also wraps a 429 must classify as RateLimited so
	// the executor depletes the chat bucket, not just retries.
	err := fmt.Errorf("%w (status 429)", &RateLimitError{RetryAfter: time.Second})
	c := Classify(err, defaultRetryable)
	if c.Kind != RateLimited {
		t.Fatalf("kind = %v, want RateLimited", c.Kind)
	}
}

func TestRetryable(t *testing.T) {
	if (Classification{Kind: Fatal}).Retryable() {
		t.Fatalf("fatal classified retryable")
	}
	for _, k := range []Kind{RateLimited, NetworkTransient, HTTPTransient} {
		if !(Classification{Kind: k}).Retryable() {
			t.Fatalf("%v not retryable", k)
		}
	}
}
