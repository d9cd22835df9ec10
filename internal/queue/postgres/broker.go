// Package postgres provides the pgx-backed job broker. The conditional
// insert on the fingerprint primary key is what makes job identity hold
// across processes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagelens/pagelens/internal/queue"
	"github.com/pagelens/pagelens/internal/screenshot"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Broker implements queue.Broker on Postgres.
//
// Schema (managed externally):
//
//	CREATE TABLE capture_jobs (
//	    id          TEXT PRIMARY KEY,
//	    tenant_id   TEXT NOT NULL,
//	    request     JSONB NOT NULL,
//	    status      TEXT NOT NULL,
//	    error       TEXT NOT NULL DEFAULT '',
//	    record_id   TEXT NOT NULL DEFAULT '',
//	    storage_key TEXT NOT NULL DEFAULT '',
//	    duration_ms BIGINT NOT NULL DEFAULT 0,
//	    created     BOOLEAN NOT NULL DEFAULT FALSE,
//	    enqueued_at TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
type Broker struct {
	pool querier
}

// New opens a pool and pings it.
func New(ctx context.Context, dsn string) (*Broker, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Broker{pool: pool}, nil
}

// NewWithPool constructs a broker from an existing pool (for pgxmock).
func NewWithPool(pool querier) *Broker {
	return &Broker{pool: pool}
}

// Close releases the pool.
func (b *Broker) Close() { b.pool.Close() }

// Claim inserts the job if its fingerprint is free, and takes over a
// terminal row so a new request re-runs the pipeline instead of being
// served a stale outcome. Racing claimers resolve inside Postgres:
// exactly one statement touches a row (RowsAffected is 1 for a fresh
// insert or a terminal takeover, 0 when a live job holds the id), the
// rest read the winner's row.
func (b *Broker) Claim(ctx context.Context, job queue.Job) (queue.Job, bool, error) {
	reqJSON, err := json.Marshal(job.Request)
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("encode request: %w", err)
	}

	insert := `
		INSERT INTO capture_jobs (id, tenant_id, request, status, enqueued_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, error = '', record_id = '',
		    storage_key = '', duration_ms = 0, created = FALSE,
		    enqueued_at = EXCLUDED.enqueued_at, updated_at = EXCLUDED.updated_at
		WHERE capture_jobs.status IN ($6, $7);
	`
	tag, err := b.pool.Exec(ctx, insert,
		job.ID, job.TenantID, string(reqJSON), string(queue.JobStatusRunning), job.EnqueuedAt,
		string(queue.JobStatusSucceeded), string(queue.JobStatusFailed))
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	claimed := tag.RowsAffected() == 1

	current, err := b.Get(ctx, job.ID)
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("read claimed job: %w", err)
	}
	return current, claimed, nil
}

// Get returns the current job row.
func (b *Broker) Get(ctx context.Context, id string) (queue.Job, error) {
	query := `
		SELECT id, tenant_id, request, status, error,
		       record_id, storage_key, duration_ms, created,
		       enqueued_at, updated_at
		FROM capture_jobs
		WHERE id = $1;
	`
	var (
		job     queue.Job
		reqJSON []byte
		status  string
	)
	err := b.pool.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.TenantID,
		&reqJSON,
		&status,
		&job.Error,
		&job.Result.RecordID,
		&job.Result.StorageKey,
		&job.Result.DurationMs,
		&job.Result.Created,
		&job.EnqueuedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return queue.Job{}, queue.ErrJobNotFound
		}
		return queue.Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = queue.JobStatus(status)
	var req screenshot.CaptureRequest
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return queue.Job{}, fmt.Errorf("decode request: %w", err)
	}
	job.Request = req
	return job, nil
}

// Complete marks the job succeeded with its result.
func (b *Broker) Complete(ctx context.Context, id string, res queue.Result) error {
	query := `
		UPDATE capture_jobs
		SET status = $2, error = '', record_id = $3, storage_key = $4,
		    duration_ms = $5, created = $6, updated_at = NOW()
		WHERE id = $1;
	`
	tag, err := b.pool.Exec(ctx, query,
		id, string(queue.JobStatusSucceeded),
		res.RecordID, res.StorageKey, res.DurationMs, res.Created)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

// Fail marks the job failed with a reason.
func (b *Broker) Fail(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE capture_jobs
		SET status = $2, error = $3, updated_at = NOW()
		WHERE id = $1;
	`
	tag, err := b.pool.Exec(ctx, query, id, string(queue.JobStatusFailed), reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

// Prune removes terminal jobs last updated before the cutoff.
func (b *Broker) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM capture_jobs
		WHERE status IN ($1, $2) AND updated_at < $3;
	`
	tag, err := b.pool.Exec(ctx, query,
		string(queue.JobStatusSucceeded), string(queue.JobStatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
