package store

import (
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

const (
	maxWriteAttempts = 3
	retryBaseDelay   = 50 * time.Millisecond
)

// withRetry runs a write operation, retrying on transient SQLite busy/locked
// errors with linear backoff. WAL mode plus the DSN busy timeout handle most
// contention; this covers the cross-process case where the timeout expires.
// Exhausted or permanent failures come back wrapped in ErrUnavailable.
func (s *SQLiteStore) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseDelay * time.Duration(attempt))
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return dbErr(err)
		}
	}
	return dbErr(err)
}

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
