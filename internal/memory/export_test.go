package memory

import (
	"database/sql"
	"sync"
	"testing"
	"time"
)

// DB exposes the internal *sql.DB for test helpers in memory_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetClock makes record timestamps start at start and advance by step on
// every read of the clock.
func SetClock(t testing.TB, start time.Time, step time.Duration) {
	t.Helper()
	var mu sync.Mutex
	cur := start
	prev := timeNow
	timeNow = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := cur
		cur = cur.Add(step)
		return now
	}
	t.Cleanup(func() { timeNow = prev })
}

// FailNextCommit makes the next transaction commit fail with err.
func (s *Store) FailNextCommit(err error) {
	s.hooks.commit = func(tx *sql.Tx) error {
		s.hooks.commit = nil
		_ = tx.Rollback()
		return err
	}
}
