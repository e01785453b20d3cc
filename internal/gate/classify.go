package gate

import (
	"errors"
	"net"
	"syscall"
	"time"
)

type Kind int

const (
	// Fatal errors are returned to the caller without any retry.
	Fatal Kind = iota
	// RateLimited errors are retryable and additionally deplete the chat
	// bucket for the server-reported cooldown.
	RateLimited
	// NetworkTransient errors are always retryable.
	NetworkTransient
	// HTTPTransient errors are retryable because their status is in the
	// policy's retryable set; statuses outside the set classify as Fatal.
	HTTPTransient
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case NetworkTransient:
		return "network"
	case HTTPTransient:
		return "http"
	default:
		return "fatal"
	}
}

// Classification is the retry decision derived from one failed attempt.
type Classification struct {
	Kind       Kind
	RetryAfter time.Duration // set for RateLimited
	Status     int           // set for HTTPTransient
}

func (c Classification) Retryable() bool { return c.Kind != Fatal }

// Classify buckets err by precedence: rate limit, then network, then
// retryable HTTP status, then fatal. Rate limits win even when the failure
// also carries a 429 status, because they must trigger bucket depletion and
// not just a generic retry.
func Classify(err error, retryableStatus map[int]struct{}) Classification {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return Classification{Kind: RateLimited, RetryAfter: rl.RetryAfter}
	}

	var ne *NetworkError
	if errors.As(err, &ne) || isTransientNetwork(err) {
		return Classification{Kind: NetworkTransient}
	}

	var se *StatusError
	if errors.As(err, &se) {
		if _, ok := retryableStatus[se.Code]; ok {
			return Classification{Kind: HTTPTransient, Status: se.Code}
		}
	}
	return Classification{Kind: Fatal}
}

// isTransientNetwork recognizes raw transport failures that escaped the
// adapter's translation: reset/refused/timed-out connections and name
// resolution trouble (including resolver try-again).
func isTransientNetwork(err error) bool {
	if err == nil {
		return false
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}
