// Package postgres provides the pgx-backed quota ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagelens/pagelens/internal/quota"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Ledger implements quota.Ledger on Postgres.
//
// Schema (managed externally):
//
//	CREATE TABLE quota_ledger (
//	    user_id             TEXT PRIMARY KEY,
//	    total               BIGINT NOT NULL,
//	    remaining           BIGINT NOT NULL,
//	    plan                TEXT NOT NULL DEFAULT 'free',
//	    refill_amount       BIGINT NOT NULL DEFAULT 0,
//	    refill_interval_sec BIGINT NOT NULL DEFAULT 0,
//	    refilled_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    extra_allowance     BOOLEAN NOT NULL DEFAULT FALSE
//	);
type Ledger struct {
	pool querier
}

// New opens a pool and pings it.
func New(ctx context.Context, dsn string) (*Ledger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// NewWithPool constructs a ledger from an existing pool (for pgxmock).
func NewWithPool(pool querier) *Ledger {
	return &Ledger{pool: pool}
}

// Close releases the pool.
func (l *Ledger) Close() { l.pool.Close() }

// Check applies any due refill, then returns the user's status.
func (l *Ledger) Check(ctx context.Context, userID string) (quota.Status, error) {
	// Lazy refill: a due interval tops remaining back up before the
	// read. Conditional update, so concurrent checkers refill once.
	refill := `
		UPDATE quota_ledger
		SET remaining = LEAST(total, remaining + refill_amount),
		    refilled_at = NOW()
		WHERE user_id = $1
		  AND refill_interval_sec > 0
		  AND refilled_at + make_interval(secs => refill_interval_sec) <= NOW();
	`
	if _, err := l.pool.Exec(ctx, refill, userID); err != nil {
		return quota.Status{}, fmt.Errorf("apply quota refill: %w", err)
	}

	query := `
		SELECT user_id, total, remaining, plan, refill_amount,
		       refill_interval_sec, refilled_at, extra_allowance
		FROM quota_ledger
		WHERE user_id = $1;
	`
	var st quota.Status
	err := l.pool.QueryRow(ctx, query, userID).Scan(
		&st.UserID,
		&st.Total,
		&st.Remaining,
		&st.Plan,
		&st.RefillAmount,
		&st.RefillIntervalSec,
		&st.RefilledAt,
		&st.ExtraAllowance,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quota.Status{}, quota.ErrNotFound
		}
		return quota.Status{}, fmt.Errorf("check quota: %w", err)
	}
	if st.Remaining <= 0 {
		return st, quota.ErrExceeded
	}
	return st, nil
}

// Consume decrements the remaining count with a single conditional
// update. The WHERE remaining > 0 guard is what makes racing consumers
// safe: the row can never go negative, losers see zero rows updated.
func (l *Ledger) Consume(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE quota_ledger
		SET remaining = remaining - 1
		WHERE user_id = $1 AND remaining > 0
		RETURNING remaining;
	`
	var remaining int64
	err := l.pool.QueryRow(ctx, query, userID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("consume quota: %w", err)
	}

	// Zero rows: either the user is unknown or the allowance is spent.
	var exists bool
	probe := `SELECT EXISTS (SELECT 1 FROM quota_ledger WHERE user_id = $1);`
	if probeErr := l.pool.QueryRow(ctx, probe, userID).Scan(&exists); probeErr != nil {
		return 0, fmt.Errorf("probe quota row: %w", probeErr)
	}
	if !exists {
		return 0, quota.ErrNotFound
	}
	return 0, quota.ErrExceeded
}
