// Package memory provides an in-memory quota ledger for tests and
// single-process development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pagelens/pagelens/internal/quota"
	"github.com/pagelens/pagelens/internal/screenshot"
)

// Ledger keeps allowance rows under a mutex. The mutex gives the same
// effective guarantee as the Postgres conditional update: check and
// decrement happen as one step.
type Ledger struct {
	mu    sync.Mutex
	rows  map[string]quota.Status
	clock screenshot.Clock
}

// New constructs an empty Ledger.
func New(clock screenshot.Clock) *Ledger {
	if clock == nil {
		clock = screenshot.SystemClock{}
	}
	return &Ledger{rows: make(map[string]quota.Status), clock: clock}
}

// Put seeds or replaces a user's row.
func (l *Ledger) Put(st quota.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[st.UserID] = st
}

// Check returns the user's status after applying any due refill.
func (l *Ledger) Check(_ context.Context, userID string) (quota.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.rows[userID]
	if !ok {
		return quota.Status{}, quota.ErrNotFound
	}
	st = l.refill(st)
	l.rows[userID] = st
	if st.Remaining <= 0 {
		return st, quota.ErrExceeded
	}
	return st, nil
}

// Consume decrements the remaining count, refusing at zero.
func (l *Ledger) Consume(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.rows[userID]
	if !ok {
		return 0, quota.ErrNotFound
	}
	if st.Remaining <= 0 {
		return 0, quota.ErrExceeded
	}
	st.Remaining--
	l.rows[userID] = st
	return st.Remaining, nil
}

func (l *Ledger) refill(st quota.Status) quota.Status {
	if st.RefillIntervalSec <= 0 {
		return st
	}
	due := st.RefilledAt.Add(time.Duration(st.RefillIntervalSec) * time.Second)
	now := l.clock.Now()
	if now.Before(due) {
		return st
	}
	st.Remaining += st.RefillAmount
	if st.Remaining > st.Total {
		st.Remaining = st.Total
	}
	st.RefilledAt = now
	return st
}
