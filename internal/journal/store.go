// Package journal persists dispatch outcomes to sqlite so rate-limit
// pressure and retry churn stay inspectable after the fact.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "botpace/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var ErrDisabled = errors.New("journal disabled")

type StoreConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// Entry is one persisted dispatch outcome.
type Entry struct {
	At         time.Time
	OpID       string
	ChatID     int64
	Event      string // send.completed / send.retried / send.rate_limited / send.failed / interaction.deadline_missed
	Class      string
	Attempts   int
	RetryAfter time.Duration
	Took       time.Duration
	Error      string
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg StoreConfig, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	// Timestamps are stored as UnixNano integers; text forms with trimmed
	// fractional seconds do not compare correctly in range queries.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches(at_ns, op_id, chat_id, event, class, attempts, retry_after_ms, took_ms, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UnixNano(), e.OpID, e.ChatID, e.Event, nullStr(e.Class),
		e.Attempts, e.RetryAfter.Milliseconds(), e.Took.Milliseconds(), nullStr(e.Error),
	)
	return err
}

// Counts summarizes dispatch outcomes since a cutoff, for /stats.
type Counts struct {
	Completed   int64
	Retried     int64
	RateLimited int64
	Failed      int64
}

func (s *Store) CountsSince(ctx context.Context, since time.Time) (Counts, error) {
	var c Counts
	if s == nil || s.db == nil {
		return c, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event, COUNT(*) FROM dispatches WHERE at_ns >= ? GROUP BY event`,
		since.UnixNano(),
	)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var event string
		var n int64
		if err := rows.Scan(&event, &n); err != nil {
			return c, err
		}
		switch event {
		case "send.completed":
			c.Completed = n
		case "send.retried":
			c.Retried = n
		case "send.rate_limited":
			c.RateLimited = n
		case "send.failed":
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// Prune deletes rows older than the cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dispatches WHERE at_ns < ?`,
		olderThan.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
