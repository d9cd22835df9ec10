package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/queue"
	"github.com/pagelens/pagelens/internal/screenshot"
)

func jobFixture(t *testing.T) (queue.Job, string) {
	t.Helper()
	req := screenshot.CaptureRequest{URL: "https://example.com", TenantID: "t1"}.Normalize()
	reqJSON, err := json.Marshal(req)
	require.NoError(t, err)
	return queue.Job{
		ID:         "fp-1",
		TenantID:   "t1",
		Request:    req,
		Status:     queue.JobStatusPending,
		EnqueuedAt: time.Unix(1700000000, 0).UTC(),
	}, string(reqJSON)
}

func jobRow(job queue.Job, reqJSON string, status queue.JobStatus) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "tenant_id", "request", "status", "error",
		"record_id", "storage_key", "duration_ms", "created",
		"enqueued_at", "updated_at",
	}).AddRow(
		job.ID, job.TenantID, []byte(reqJSON), string(status), "",
		"", "", int64(0), false,
		job.EnqueuedAt, job.EnqueuedAt,
	)
}

func TestClaimWinsWhenInsertLands(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	broker := NewWithPool(mock)

	job, reqJSON := jobFixture(t)

	mock.ExpectExec("INSERT INTO capture_jobs").
		WithArgs(job.ID, job.TenantID, reqJSON, string(queue.JobStatusRunning), job.EnqueuedAt,
			string(queue.JobStatusSucceeded), string(queue.JobStatusFailed)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT (.+) FROM capture_jobs").
		WithArgs(job.ID).
		WillReturnRows(jobRow(job, reqJSON, queue.JobStatusRunning))

	got, claimed, err := broker.Claim(context.Background(), job)
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, queue.JobStatusRunning, got.Status)
	require.Equal(t, job.Request.URL, got.Request.URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimLosesToLiveJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	broker := NewWithPool(mock)

	job, reqJSON := jobFixture(t)

	mock.ExpectExec("INSERT INTO capture_jobs").
		WithArgs(job.ID, job.TenantID, reqJSON, string(queue.JobStatusRunning), job.EnqueuedAt,
			string(queue.JobStatusSucceeded), string(queue.JobStatusFailed)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT (.+) FROM capture_jobs").
		WithArgs(job.ID).
		WillReturnRows(jobRow(job, reqJSON, queue.JobStatusRunning))

	got, claimed, err := broker.Claim(context.Background(), job)
	require.NoError(t, err)
	require.False(t, claimed)
	require.Equal(t, queue.JobStatusRunning, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimReclaimsTerminalRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	broker := NewWithPool(mock)

	job, reqJSON := jobFixture(t)

	// The conflicting row is terminal, so the conditional update takes
	// it over and this caller owns the rerun.
	mock.ExpectExec("INSERT INTO capture_jobs").
		WithArgs(job.ID, job.TenantID, reqJSON, string(queue.JobStatusRunning), job.EnqueuedAt,
			string(queue.JobStatusSucceeded), string(queue.JobStatusFailed)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT (.+) FROM capture_jobs").
		WithArgs(job.ID).
		WillReturnRows(jobRow(job, reqJSON, queue.JobStatusRunning))

	got, claimed, err := broker.Claim(context.Background(), job)
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, queue.JobStatusRunning, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	broker := NewWithPool(mock)

	mock.ExpectQuery("SELECT (.+) FROM capture_jobs").
		WithArgs("absent").
		WillReturnError(pgx.ErrNoRows)

	_, err = broker.Get(context.Background(), "absent")
	require.ErrorIs(t, err, queue.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteUpdatesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	broker := NewWithPool(mock)

	res := queue.Result{
		RecordID:   "rec-1",
		StorageKey: "screenshots/t1/rec-1.png",
		DurationMs: 42,
		Created:    true,
	}
	mock.ExpectExec("UPDATE capture_jobs").
		WithArgs("fp-1", string(queue.JobStatusSucceeded),
			res.RecordID, res.StorageKey, res.DurationMs, res.Created).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, broker.Complete(context.Background(), "fp-1", res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailUnknownJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	broker := NewWithPool(mock)

	mock.ExpectExec("UPDATE capture_jobs").
		WithArgs("absent", string(queue.JobStatusFailed), "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = broker.Fail(context.Background(), "absent", "boom")
	require.ErrorIs(t, err, queue.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneReportsCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	broker := NewWithPool(mock)

	cutoff := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("DELETE FROM capture_jobs").
		WithArgs(string(queue.JobStatusSucceeded), string(queue.JobStatusFailed), cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := broker.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
