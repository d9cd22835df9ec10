// Package quota enforces the per-user capture allowance. Consumption is
// charged per unique render, never per HTTP call: dedup hits and cache
// hits are free.
package quota

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no ledger row exists for the user.
var ErrNotFound = errors.New("quota ledger entry not found")

// ErrExceeded indicates the remaining allowance is exhausted.
var ErrExceeded = errors.New("quota exceeded")

// Status is a snapshot of one user's allowance.
type Status struct {
	UserID            string
	Total             int64
	Remaining         int64
	Plan              string
	RefillAmount      int64
	RefillIntervalSec int64
	RefilledAt        time.Time
	ExtraAllowance    bool
}

// RefillAt reports when the next refill becomes due, or the zero time if
// the plan never refills.
func (s Status) RefillAt() time.Time {
	if s.RefillIntervalSec <= 0 {
		return time.Time{}
	}
	return s.RefilledAt.Add(time.Duration(s.RefillIntervalSec) * time.Second)
}

// Ledger is the atomic allowance interface.
type Ledger interface {
	// Check returns the current status. It fails with ErrNotFound when
	// the user has no ledger row and ErrExceeded when remaining <= 0;
	// in the exceeded case the returned Status is still populated.
	Check(ctx context.Context, userID string) (Status, error)
	// Consume atomically decrements the remaining count and returns the
	// new value. The decrement is refused, not clamped, at zero: it
	// must be a single conditional update so concurrent consumers never
	// drive the counter negative.
	Consume(ctx context.Context, userID string) (int64, error)
}
