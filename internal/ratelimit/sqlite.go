package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists counters in a SQLite database so limits survive
// restarts and can be shared by processes on the same host.
//
// The increment is a single UPSERT statement: the window-reset decision and
// the increment happen inside one SQLite write transaction, so concurrent
// callers cannot both observe the pre-increment count.
type SQLiteStore struct {
	db *sql.DB
}

const counterSchema = `
CREATE TABLE IF NOT EXISTS rate_counters (
	key          TEXT PRIMARY KEY,
	count        INTEGER NOT NULL,
	window_start INTEGER NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) the counter database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open counter store: %w", err)
	}
	// SQLite permits one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent increments.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(counterSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize counter store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Incr implements CounterStore.
func (s *SQLiteStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	cutoff := now.Add(-window).UnixNano()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_counters (key, count, window_start)
		VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			count = CASE WHEN rate_counters.window_start <= ? THEN 1 ELSE rate_counters.count + 1 END,
			window_start = CASE WHEN rate_counters.window_start <= ? THEN excluded.window_start ELSE rate_counters.window_start END
		RETURNING count, window_start`,
		key, now.UnixNano(), cutoff, cutoff,
	)

	var count int64
	var windowStart int64
	if err := row.Scan(&count, &windowStart); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, time.Unix(0, windowStart), nil
}

// Close implements CounterStore.
func (s *SQLiteStore) Close() error { return s.db.Close() }
