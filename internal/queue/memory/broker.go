// Package memory provides an in-process job broker for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pagelens/pagelens/internal/queue"
	"github.com/pagelens/pagelens/internal/screenshot"
)

// Broker keeps jobs in a map guarded by a mutex. Claim-unless-live
// under the lock gives the same exactly-one-claimer guarantee the
// Postgres broker gets from its conditional insert.
type Broker struct {
	mu    sync.Mutex
	jobs  map[string]queue.Job
	clock screenshot.Clock
}

// New constructs an empty Broker.
func New(clock screenshot.Clock) *Broker {
	if clock == nil {
		clock = screenshot.SystemClock{}
	}
	return &Broker{jobs: make(map[string]queue.Job), clock: clock}
}

// Claim registers the job unless a live one exists for its ID. A
// terminal row is replaced so a new request re-runs the pipeline
// instead of being served its stale outcome.
func (b *Broker) Claim(_ context.Context, job queue.Job) (queue.Job, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.jobs[job.ID]; ok && !existing.Status.Terminal() {
		return existing, false, nil
	}
	job.Status = queue.JobStatusRunning
	job.Error = ""
	job.Result = queue.Result{}
	job.UpdatedAt = b.clock.Now()
	b.jobs[job.ID] = job
	return job, true, nil
}

// Get returns the current job row.
func (b *Broker) Get(_ context.Context, id string) (queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return queue.Job{}, queue.ErrJobNotFound
	}
	return job, nil
}

// Complete marks the job succeeded.
func (b *Broker) Complete(_ context.Context, id string, res queue.Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return queue.ErrJobNotFound
	}
	job.Status = queue.JobStatusSucceeded
	job.Result = res
	job.Error = ""
	job.UpdatedAt = b.clock.Now()
	b.jobs[id] = job
	return nil
}

// Fail marks the job failed.
func (b *Broker) Fail(_ context.Context, id string, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return queue.ErrJobNotFound
	}
	job.Status = queue.JobStatusFailed
	job.Error = reason
	job.UpdatedAt = b.clock.Now()
	b.jobs[id] = job
	return nil
}

// Prune drops terminal jobs last updated before the cutoff.
func (b *Broker) Prune(_ context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, job := range b.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(b.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live jobs.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}
