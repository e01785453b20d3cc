// Package config loads and watches botpace's configuration. Files may be
// YAML or JSON; YAML is coerced to JSON so one strict decoder covers both.
package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Rate     RateConfig     `json:"rate"`
	Retry    RetryConfig    `json:"retry"`
	Journal  JournalConfig  `json:"journal"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console bool           `json:"console"`
	File    LogFileConfig  `json:"file"`
	Chat    ChatSinkConfig `json:"chat"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type ChatSinkConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type RateConfig struct {
	Global BucketConfig `json:"global"`
	Chat   BucketConfig `json:"chat"`
}

// BucketConfig leaves zero values to the gate defaults (global 50/50s,
// per-chat 5/5s).
type BucketConfig struct {
	Capacity     int     `json:"capacity,omitempty"`
	RefillPerSec float64 `json:"refill_per_sec,omitempty"`
}

type RetryConfig struct {
	MaxRetries      int    `json:"max_retries,omitempty"`
	BaseDelay       string `json:"base_delay,omitempty"`
	RetryableStatus []int  `json:"retryable_status,omitempty"`
}

type JournalConfig struct {
	Enabled     bool        `json:"enabled"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Prune       PruneConfig `json:"prune"`
}

type PruneConfig struct {
	// Schedule is a cron spec ("17 3 * * *") or descriptor ("@hourly").
	Schedule string `json:"schedule,omitempty"`
	// Keep is how far back journal rows are retained, as a duration string.
	Keep string `json:"keep,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := DurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := DurationField("retry.base_delay", c.Retry.BaseDelay); err != nil {
		return err
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	for _, code := range c.Retry.RetryableStatus {
		if code < 100 || code > 599 {
			return fmt.Errorf("retry.retryable_status: %d is not an HTTP status", code)
		}
	}
	if c.Rate.Global.Capacity < 0 || c.Rate.Chat.Capacity < 0 {
		return errors.New("rate capacities must be >= 0")
	}
	if c.Rate.Global.RefillPerSec < 0 || c.Rate.Chat.RefillPerSec < 0 {
		return errors.New("rate refill_per_sec must be >= 0")
	}
	if c.Journal.Enabled {
		if _, err := DurationField("journal.busy_timeout", c.Journal.BusyTimeout); err != nil {
			return err
		}
		if _, err := DurationField("journal.prune.keep", c.Journal.Prune.Keep); err != nil {
			return err
		}
	}
	return nil
}

// The accessors below assume Validate already ran; unset fields fall back
// to their defaults (or to zero where the consumer supplies its own).

// PollTimeoutOrDefault returns the configured long-poll timeout.
func (c *Config) PollTimeoutOrDefault() time.Duration {
	return durationOr(c.Telegram.PollTimeout, 10*time.Second)
}

// RetryBaseDelay returns the parsed backoff base, zero when unset.
func (c *Config) RetryBaseDelay() time.Duration {
	return durationOr(c.Retry.BaseDelay, 0)
}

// JournalBusyTimeout returns the sqlite busy timeout, zero when unset.
func (c *Config) JournalBusyTimeout() time.Duration {
	return durationOr(c.Journal.BusyTimeout, 0)
}

// JournalKeep returns the prune retention window, zero when unset.
func (c *Config) JournalKeep() time.Duration {
	return durationOr(c.Journal.Prune.Keep, 0)
}
