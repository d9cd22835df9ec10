package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/fingerprint"
	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/publisher"
	"github.com/pagelens/pagelens/internal/records"
	"github.com/pagelens/pagelens/internal/screenshot"
	"github.com/pagelens/pagelens/internal/storage"
)

// ErrJobFailed wraps the stored failure reason when a request resolves
// to a job that another worker already failed.
var ErrJobFailed = errors.New("capture job failed")

// Config controls Service behavior.
type Config struct {
	// MaxConcurrent bounds how many capture pipelines run at once in
	// this process.
	MaxConcurrent int
	// PollInterval is how often non-claiming requests re-read a job
	// they are waiting on.
	PollInterval time.Duration
	// RetentionTTL is how long terminal jobs stay visible before the
	// janitor prunes them.
	RetentionTTL time.Duration
	// JanitorInterval is how often the janitor sweeps.
	JanitorInterval time.Duration
	// Topic, when set, receives a CaptureCompleted event per terminal
	// job.
	Topic string
}

// Service executes capture jobs end to end: claim, record lookup,
// orphan cleanup, render, upload, record insert, completion.
type Service struct {
	broker  Broker
	records records.Store
	objects storage.ObjectStore
	engine  engine.Engine
	pub     publisher.Publisher
	clock   screenshot.Clock
	logger  *zap.Logger
	cfg     Config
	sem     chan struct{}
}

// NewService constructs a Service.
func NewService(
	broker Broker,
	recordStore records.Store,
	objects storage.ObjectStore,
	eng engine.Engine,
	pub publisher.Publisher,
	clock screenshot.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = time.Hour
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = 5 * time.Minute
	}
	if clock == nil {
		clock = screenshot.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		broker:  broker,
		records: recordStore,
		objects: objects,
		engine:  eng,
		pub:     pub,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Execute resolves one fingerprinted request to a stored screenshot.
// The first caller for a fingerprint claims the job and runs the
// pipeline; everyone else blocks on the same job row until it goes
// terminal. The call is synchronous by design: the HTTP handler above
// holds the connection open until the image exists.
func (s *Service) Execute(
	ctx context.Context,
	fp fingerprint.Fingerprint,
	req screenshot.CaptureRequest,
) (Result, error) {
	now := s.clock.Now()
	job := Job{
		ID:         string(fp),
		TenantID:   req.TenantID,
		Request:    req,
		Status:     JobStatusPending,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}

	current, claimed, err := s.broker.Claim(ctx, job)
	if err != nil {
		return Result{}, fmt.Errorf("claim job: %w", err)
	}
	if claimed {
		return s.runClaimed(ctx, current)
	}
	if current.Status.Terminal() {
		// The owner finished between the claim attempt and the read
		// of its row. That outcome is moments old, so serve it.
		return resultOf(current)
	}
	return s.await(ctx, current.ID)
}

func (s *Service) runClaimed(ctx context.Context, job Job) (Result, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.failJob(job, fmt.Sprintf("canceled before start: %v", ctx.Err()))
		return Result{}, fmt.Errorf("acquire pipeline slot: %w", ctx.Err())
	}
	defer func() { <-s.sem }()

	metrics.IncActivePipelines()
	defer metrics.DecActivePipelines()

	res, err := s.process(ctx, job)
	if err != nil {
		s.failJob(job, err.Error())
		return Result{}, err
	}

	if cerr := s.broker.Complete(ctx, job.ID, res); cerr != nil {
		// The artifact exists; waiters on this row will see a stale
		// status but retries converge on the stored record.
		s.logger.Error("complete job",
			zap.String("job_id", job.ID),
			zap.Error(cerr),
		)
	}
	s.publish(job, res, "")
	return res, nil
}

// process is the capture pipeline for one claimed job.
func (s *Service) process(ctx context.Context, job Job) (Result, error) {
	rec, err := s.records.FindExisting(ctx, job.TenantID, job.Request)
	switch {
	case err == nil:
		exists, serr := s.objects.Exists(ctx, rec.StorageKey)
		metrics.ObserveStorageOperation("exists", serr)
		if serr != nil {
			return Result{}, fmt.Errorf("verify stored object: %w", serr)
		}
		if exists {
			return Result{
				RecordID:   rec.ID,
				StorageKey: rec.StorageKey,
				DurationMs: rec.DurationMs,
				Created:    false,
			}, nil
		}
		// Metadata without a blob. Drop the row and rerender; leaving
		// it would keep serving a record no one can read.
		s.logger.Warn("orphaned record, regenerating",
			zap.String("record_id", rec.ID),
			zap.String("storage_key", rec.StorageKey),
		)
		if derr := s.records.Delete(ctx, rec.ID); derr != nil && !errors.Is(derr, records.ErrNotFound) {
			return Result{}, fmt.Errorf("delete orphaned record: %w", derr)
		}
	case errors.Is(err, records.ErrNotFound):
		// First render for these parameters.
	default:
		return Result{}, fmt.Errorf("find existing record: %w", err)
	}

	out, err := s.engine.Capture(ctx, job.Request)
	if err != nil {
		return Result{}, fmt.Errorf("capture: %w", err)
	}

	recordID := uuid.NewString()
	key := screenshot.StorageKey(job.TenantID, recordID, job.Request.Format)
	err = s.objects.Write(ctx, key, out.Data, storage.WriteOptions{ContentType: out.ContentType})
	metrics.ObserveStorageOperation("write", err)
	if err != nil {
		return Result{}, fmt.Errorf("store screenshot: %w", err)
	}

	now := s.clock.Now()
	newRec := screenshot.Record{
		ID:         recordID,
		TenantID:   job.TenantID,
		Request:    job.Request,
		StorageKey: key,
		DurationMs: out.Duration.Milliseconds(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.records.Insert(ctx, newRec); err != nil {
		// No record means no one will ever find this blob. Undo the
		// upload so the bucket does not accrete unreachable objects.
		_, derr := s.objects.DeleteMany(context.WithoutCancel(ctx), []string{key})
		metrics.ObserveStorageOperation("delete", derr)
		if derr != nil {
			s.logger.Error("rollback stored object",
				zap.String("storage_key", key),
				zap.Error(derr),
			)
		}
		return Result{}, fmt.Errorf("insert record: %w", err)
	}

	return Result{
		RecordID:   recordID,
		StorageKey: key,
		DurationMs: out.Duration.Milliseconds(),
		Created:    true,
	}, nil
}

// await polls a job someone else owns until it goes terminal.
func (s *Service) await(ctx context.Context, id string) (Result, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("await job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
		job, err := s.broker.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				// Pruned between polls; the owner finished long ago.
				return Result{}, fmt.Errorf("%w: job pruned while waiting", ErrJobFailed)
			}
			return Result{}, fmt.Errorf("poll job %s: %w", id, err)
		}
		switch job.Status {
		case JobStatusSucceeded:
			res := job.Result
			// Attached callers did not produce the render; only the
			// claimer reports a fresh creation.
			res.Created = false
			return res, nil
		case JobStatusFailed:
			return Result{}, fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
		}
	}
}

func (s *Service) failJob(job Job, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.broker.Fail(ctx, job.ID, reason); err != nil {
		s.logger.Error("fail job",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
	s.publish(job, Result{}, reason)
}

func (s *Service) publish(job Job, res Result, failure string) {
	if s.pub == nil || s.cfg.Topic == "" {
		return
	}
	state := string(screenshot.StateGenerated)
	if failure != "" {
		state = string(screenshot.StateFailed)
	} else if !res.Created {
		state = string(screenshot.StateFound)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.pub.Publish(ctx, s.cfg.Topic, publisher.CaptureCompleted{
		RecordID:    res.RecordID,
		TenantID:    job.TenantID,
		Fingerprint: job.ID,
		StorageKey:  res.StorageKey,
		State:       state,
		Error:       failure,
		DurationMs:  res.DurationMs,
		CompletedAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Error("publish capture event",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

// RunJanitor prunes terminal jobs until the context finishes.
func (s *Service) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cutoff := s.clock.Now().Add(-s.cfg.RetentionTTL)
		n, err := s.broker.Prune(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("prune jobs", zap.Error(err))
			}
			continue
		}
		if n > 0 {
			s.logger.Debug("pruned jobs", zap.Int("count", n))
		}
	}
}

func resultOf(job Job) (Result, error) {
	if job.Status == JobStatusFailed {
		return Result{}, fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
	}
	res := job.Result
	res.Created = false
	return res, nil
}
