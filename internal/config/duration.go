package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationField parses a duration-valued config string. Empty means unset
// and parses to zero; negatives are rejected because every duration knob
// here is a wait or a retention window.
func DurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (want forms like \"500ms\", \"3s\"): %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %q must not be negative", path, raw)
	}
	return d, nil
}

// durationOr reads an already-validated field, falling back when unset or
// unparseable.
func durationOr(raw string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil && d > 0 {
		return d
	}
	return def
}
