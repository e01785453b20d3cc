package telegram

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	tele "gopkg.in/telebot.v4"

	"botpace/internal/gate"
)

// translate maps telebot/transport failures to gate's discriminated error
// variants so classification matches on type instead of probing fields.
// Precedence mirrors the classifier: flood wins over its generic 429 code.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &gate.RateLimitError{RetryAfter: time.Duration(fe.RetryAfter) * time.Second}
	}

	var te *tele.Error
	if errors.As(err, &te) {
		return &gate.StatusError{Code: te.Code, Description: te.Description}
	}

	if isNetwork(err) {
		return &gate.NetworkError{Op: op, Err: err}
	}
	return err
}

func isNetwork(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
