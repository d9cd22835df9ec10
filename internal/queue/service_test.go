package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/fingerprint"
	"github.com/pagelens/pagelens/internal/publisher"
	"github.com/pagelens/pagelens/internal/records"
	recordsmem "github.com/pagelens/pagelens/internal/records/memory"
	"github.com/pagelens/pagelens/internal/screenshot"
	"github.com/pagelens/pagelens/internal/storage"
	storagemem "github.com/pagelens/pagelens/internal/storage/memory"
)

type fakeEngine struct {
	mu       sync.Mutex
	captures int32
	delay    time.Duration
	err      error
	data     []byte
}

func (f *fakeEngine) Capture(ctx context.Context, req screenshot.CaptureRequest) (engine.Result, error) {
	atomic.AddInt32(&f.captures, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return engine.Result{}, f.err
	}
	data := f.data
	if data == nil {
		data = []byte("png-bytes")
	}
	return engine.Result{
		Data:        data,
		ContentType: engine.ContentType(req.Format),
		Duration:    12 * time.Millisecond,
	}, nil
}

func (f *fakeEngine) count() int32 { return atomic.LoadInt32(&f.captures) }

type fakePublisher struct {
	mu       sync.Mutex
	messages []publisher.CaptureCompleted
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := payload.(publisher.CaptureCompleted); ok {
		f.messages = append(f.messages, msg)
	}
	return "id", nil
}

func (f *fakePublisher) events() []publisher.CaptureCompleted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publisher.CaptureCompleted, len(f.messages))
	copy(out, f.messages)
	return out
}

type fixture struct {
	svc     *Service
	broker  *memBroker
	records records.Store
	objects *storagemem.Store
	engine  *fakeEngine
	pub     *fakePublisher
}

// memBroker is a local copy of the in-memory broker so the service test
// does not import its own subpackage's consumers.
type memBroker struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMemBroker() *memBroker { return &memBroker{jobs: make(map[string]Job)} }

func (b *memBroker) Claim(_ context.Context, job Job) (Job, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.jobs[job.ID]; ok && !existing.Status.Terminal() {
		return existing, false, nil
	}
	job.Status = JobStatusRunning
	job.Error = ""
	job.Result = Result{}
	b.jobs[job.ID] = job
	return job, true, nil
}

func (b *memBroker) Get(_ context.Context, id string) (Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

func (b *memBroker) Complete(_ context.Context, id string, res Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job := b.jobs[id]
	job.Status = JobStatusSucceeded
	job.Result = res
	b.jobs[id] = job
	return nil
}

func (b *memBroker) Fail(_ context.Context, id string, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job := b.jobs[id]
	job.Status = JobStatusFailed
	job.Error = reason
	b.jobs[id] = job
	return nil
}

func (b *memBroker) Prune(_ context.Context, cutoff time.Time) (int, error) {
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

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		broker:  newMemBroker(),
		records: recordsmem.New(),
		objects: storagemem.New(),
		engine:  &fakeEngine{},
		pub:     &fakePublisher{},
	}
	f.svc = NewService(
		f.broker,
		f.records,
		f.objects,
		f.engine,
		f.pub,
		screenshot.SystemClock{},
		Config{PollInterval: 5 * time.Millisecond, Topic: "captures"},
		nil,
	)
	return f
}

func testRequest() screenshot.CaptureRequest {
	req := screenshot.CaptureRequest{
		URL:      "https://example.com",
		TenantID: "tenant-1",
	}
	return req.Normalize()
}

func mustFingerprint(t *testing.T, req screenshot.CaptureRequest) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.New(req)
	require.NoError(t, err)
	return fp
}

func TestExecuteFreshCapture(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := testRequest()

	res, err := f.svc.Execute(context.Background(), mustFingerprint(t, req), req)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.NotEmpty(t, res.RecordID)
	require.Equal(t, screenshot.StorageKey("tenant-1", res.RecordID, req.Format), res.StorageKey)

	exists, err := f.objects.Exists(context.Background(), res.StorageKey)
	require.NoError(t, err)
	require.True(t, exists)

	rec, err := f.records.FindExisting(context.Background(), "tenant-1", req)
	require.NoError(t, err)
	require.Equal(t, res.RecordID, rec.ID)

	events := f.pub.events()
	require.Len(t, events, 1)
	require.Equal(t, string(screenshot.StateGenerated), events[0].State)
}

func TestExecuteReusesExistingRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := testRequest()
	fp := mustFingerprint(t, req)

	first, err := f.svc.Execute(context.Background(), fp, req)
	require.NoError(t, err)
	require.True(t, first.Created)

	// The finished job is still in the broker; the answer must come
	// from the record store, not the stale job row.
	second, err := f.svc.Execute(context.Background(), fp, req)
	require.NoError(t, err)
	require.False(t, second.Created, "stored artifact must be reused")
	require.Equal(t, first.RecordID, second.RecordID)
	require.Equal(t, int32(1), f.engine.count(), "no second render")
}

func TestExecuteRecoversOrphanedRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := testRequest()
	fp := mustFingerprint(t, req)

	first, err := f.svc.Execute(context.Background(), fp, req)
	require.NoError(t, err)

	// Simulate a lost blob: record exists, object is gone. The old
	// succeeded job is still around and must not answer for it.
	f.objects.Delete(first.StorageKey)

	second, err := f.svc.Execute(context.Background(), fp, req)
	require.NoError(t, err)
	require.True(t, second.Created, "orphan must trigger a rerender")
	require.NotEqual(t, first.RecordID, second.RecordID)
	require.NotEqual(t, first.StorageKey, second.StorageKey)
	require.Equal(t, int32(2), f.engine.count(), "orphan recovery renders again")

	_, err = f.records.FindExisting(context.Background(), "tenant-1", req)
	require.NoError(t, err)

	exists, err := f.objects.Exists(context.Background(), second.StorageKey)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestExecuteCoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.engine.delay = 50 * time.Millisecond
	req := testRequest()
	fp := mustFingerprint(t, req)

	const callers = 8
	results := make([]Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Execute(context.Background(), fp, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].RecordID, results[i].RecordID)
		require.Equal(t, results[0].StorageKey, results[i].StorageKey)
	}
	require.Equal(t, int32(1), f.engine.count(), "one render for all callers")
}

func TestExecuteCaptureFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.engine.err = errors.New("tab crashed")
	req := testRequest()
	fp := mustFingerprint(t, req)

	_, err := f.svc.Execute(context.Background(), fp, req)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tab crashed")

	job, err := f.broker.Get(context.Background(), string(fp))
	require.NoError(t, err)
	require.Equal(t, JobStatusFailed, job.Status)

	events := f.pub.events()
	require.Len(t, events, 1)
	require.Equal(t, string(screenshot.StateFailed), events[0].State)

	require.Equal(t, 0, f.objects.Len(), "no artifact on failure")
}

func TestExecuteRetriesAfterFailedJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.engine.err = errors.New("tab crashed")
	req := testRequest()
	fp := mustFingerprint(t, req)

	_, err := f.svc.Execute(context.Background(), fp, req)
	require.ErrorContains(t, err, "tab crashed")

	// The fault clears. The next identical request must re-run the
	// engine instead of replaying the failure recorded on the job.
	f.engine.err = nil
	res, err := f.svc.Execute(context.Background(), fp, req)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, int32(2), f.engine.count(), "retry must reach the engine")

	job, err := f.broker.Get(context.Background(), string(fp))
	require.NoError(t, err)
	require.Equal(t, JobStatusSucceeded, job.Status)
	require.Empty(t, job.Error)
}

func TestExecuteWaiterSeesFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.engine.delay = 50 * time.Millisecond
	f.engine.err = errors.New("render exploded")
	req := testRequest()
	fp := mustFingerprint(t, req)

	var wg sync.WaitGroup
	errsCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Execute(context.Background(), fp, req)
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)

	for err := range errsCh {
		require.Error(t, err)
	}
}

func TestExecuteRollsBackObjectOnInsertFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	failing := &failingRecordStore{Store: f.records}
	f.svc = NewService(
		f.broker, failing, f.objects, f.engine, f.pub,
		screenshot.SystemClock{},
		Config{PollInterval: 5 * time.Millisecond},
		nil,
	)
	req := testRequest()

	_, err := f.svc.Execute(context.Background(), mustFingerprint(t, req), req)
	require.Error(t, err)
	require.Equal(t, 0, f.objects.Len(), "uploaded blob must be rolled back")
}

type failingRecordStore struct {
	records.Store
}

func (s *failingRecordStore) Insert(context.Context, screenshot.Record) (screenshot.Record, error) {
	return screenshot.Record{}, errors.New("insert rejected")
}

func TestAwaitContextCancellation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.engine.delay = time.Second
	req := testRequest()
	fp := mustFingerprint(t, req)

	go func() {
		_, _ = f.svc.Execute(context.Background(), fp, req)
	}()
	require.Eventually(t, func() bool {
		_, err := f.broker.Get(context.Background(), string(fp))
		return err == nil
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.svc.Execute(ctx, fp, req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

var _ storage.ObjectStore = (*storagemem.Store)(nil)
