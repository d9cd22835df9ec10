// Package queue coordinates capture jobs across requests and processes.
// Jobs are keyed by request fingerprint, so identical requests arriving
// anywhere in the fleet converge on a single render.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/pagelens/pagelens/internal/screenshot"
)

// ErrJobNotFound indicates no job exists for the fingerprint.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the lifecycle state of a capture job.
type JobStatus string

// Job lifecycle states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Result is the outcome of a succeeded job.
type Result struct {
	RecordID   string `json:"record_id"`
	StorageKey string `json:"storage_key"`
	DurationMs int64  `json:"duration_ms"`
	// Created is true when this job rendered a fresh screenshot, false
	// when it resolved to an already-stored one. Billing and cache
	// headers both hang off this distinction.
	Created bool `json:"created"`
}

// Job is one fingerprint-keyed unit of capture work.
type Job struct {
	// ID is the request fingerprint.
	ID         string                    `json:"id"`
	TenantID   string                    `json:"tenant_id"`
	Request    screenshot.CaptureRequest `json:"request"`
	Status     JobStatus                 `json:"status"`
	Error      string                    `json:"error,omitempty"`
	Result     Result                    `json:"result"`
	EnqueuedAt time.Time                 `json:"enqueued_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Broker is the durable job registry. Claim is the idempotency point:
// for any fingerprint exactly one caller claims the job, everyone else
// observes it.
type Broker interface {
	// Claim registers the job if no live job exists for its ID.
	// Terminal rows are replaced, not returned: job retention exists
	// for observability, never to answer a new request. It returns
	// the authoritative job row and whether this caller now owns the
	// work.
	Claim(ctx context.Context, job Job) (Job, bool, error)
	// Get returns the current job row.
	Get(ctx context.Context, id string) (Job, error)
	// Complete marks the job succeeded with its result.
	Complete(ctx context.Context, id string, res Result) error
	// Fail marks the job failed with a reason.
	Fail(ctx context.Context, id string, reason string) error
	// Prune removes terminal jobs last updated before the cutoff and
	// returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}
