package queue

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

const jobColumnsList = "id, font_name, source, source_payload, status, attempts, max_attempts, priority, worker_id, last_error, created_at, updated_at, claimed_at, finished_at"

func jobColumns() []string {
	return []string{"id", "font_name", "source", "source_payload", "status", "attempts", "max_attempts", "priority", "worker_id", "last_error", "created_at", "updated_at", "claimed_at", "finished_at"}
}

func newMock(t *testing.T) (*Queue, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return New(db, 30*time.Second), mock, func() { db.Close() }
}

func TestEnqueueCreatesPendingJob(t *testing.T) {
	q, mock, done := newMock(t)
	defer done()

	query := regexp.QuoteMeta(`
INSERT INTO enrichment_jobs (font_name, source, source_payload, priority, status, max_attempts)
VALUES ($1,$2,$3,$4,'pending',$5)
RETURNING id, created_at, updated_at
`)
	now := time.Now()
	mock.ExpectQuery(query).
		WithArgs("Satoshi", "jit", []byte(`{"category":"sans-serif"}`), PriorityJustInTime, DefaultMaxAttempts).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("job-1", now, now))

	job, created, err := q.Enqueue(context.Background(), "Satoshi", "jit", Payload{Category: "sans-serif"}, PriorityJustInTime)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if job.ID != "job-1" || job.Status != StatusPending || job.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("unexpected job: %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnqueueDuplicateActiveJobReportsAlreadyExists(t *testing.T) {
	q, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("INSERT INTO enrichment_jobs").
		WithArgs("Satoshi", "jit", []byte(`{}`), PriorityBackfill, DefaultMaxAttempts).
		WillReturnError(&pq.Error{Code: "23505"})

	// A second enqueue against an active job is not an error; it reports
	// created=false and writes nothing regardless of priority.
	_, created, err := q.Enqueue(context.Background(), "Satoshi", "jit", Payload{}, PriorityBackfill)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if created {
		t.Fatal("expected created=false for duplicate active job")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnqueueRequiresFontName(t *testing.T) {
	q, _, done := newMock(t)
	defer done()

	if _, _, err := q.Enqueue(context.Background(), "", "jit", Payload{}, 0); err == nil {
		t.Fatal("expected error for empty font name")
	}
}

func TestClaimReturnsJob(t *testing.T) {
	q, mock, done := newMock(t)
	defer done()

	query := regexp.QuoteMeta(`
UPDATE enrichment_jobs
SET status='processing', attempts=attempts+1, worker_id=$1, claimed_at=NOW(), updated_at=NOW()
WHERE id = (
  SELECT id FROM enrichment_jobs
  WHERE status='pending' AND (not_before IS NULL OR not_before <= NOW())
  ORDER BY priority DESC, created_at ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
RETURNING ` + jobColumnsList + `
`)
	now := time.Now()
	claimed := now
	rows := sqlmock.NewRows(jobColumns()).
		AddRow("job-1", "Satoshi", "jit", []byte(`{"category":"sans-serif"}`), "processing", 1, 3, 1,
			"worker-abc", nil, now, now, claimed, nil)
	mock.ExpectQuery(query).WithArgs("worker-abc").WillReturnRows(rows)

	job, err := q.Claim(context.Background(), "worker-abc")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.Status != StatusProcessing || job.Attempts != 1 || job.WorkerID != "worker-abc" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.SourcePayload.Category != "sans-serif" {
		t.Fatalf("payload not decoded: %+v", job.SourcePayload)
	}
	if job.ClaimedAt == nil {
		t.Fatal("claimed_at should be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimEmptyQueueReturnsNil(t *testing.T) {
	q, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("UPDATE enrichment_jobs").WithArgs("worker-abc").WillReturnError(sql.ErrNoRows)

	job, err := q.Claim(context.Background(), "worker-abc")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestCompleteOnlyTouchesProcessingJobs(t *testing.T) {
	q, mock, done := newMock(t)
	defer done()

	query := regexp.QuoteMeta(`
UPDATE enrichment_jobs
SET status='completed', finished_at=NOW(), updated_at=NOW()
WHERE id=$1 AND status='processing'
`)
	mock.ExpectExec(query).WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := q.Complete(context.Background(), "job-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Second call matches no rows: terminal states are never rewritten.
	mock.ExpectExec(query).WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := q.Complete(context.Background(), "job-1"); err != nil {
		t.Fatalf("Complete (repeat): %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFailRecordsErrorWithBackoff(t *testing.T) {
	q, mock, done := newMock(t)
	defer done()

	query := regexp.QuoteMeta(`
UPDATE enrichment_jobs
SET status      = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
    last_error  = $2,
    finished_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE NULL END,
    not_before  = CASE WHEN attempts >= max_attempts THEN NULL ELSE NOW() + make_interval(secs => $3 * power(2, attempts - 1)) END,
    updated_at  = NOW()
WHERE id=$1 AND status='processing'
`)
	mock.ExpectExec(query).
		WithArgs("job-1", "embedding endpoint timeout", float64(30)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := q.Fail(context.Background(), "job-1", "embedding endpoint timeout"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatusCounts(t *testing.T) {
	q, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status, COUNT(*) FROM enrichment_jobs GROUP BY status`)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).
			AddRow("failed", 2))

	counts, err := q.StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[StatusPending] != 4 || counts[StatusFailed] != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	// Absent statuses still report zero.
	if counts[StatusProcessing] != 0 || counts[StatusCompleted] != 0 {
		t.Fatalf("missing zero defaults: %+v", counts)
	}
}

func TestStalledFindsOldClaims(t *testing.T) {
	q, mock, done := newMock(t)
	defer done()

	now := time.Now()
	claimed := now.Add(-30 * time.Minute)
	rows := sqlmock.NewRows(jobColumns()).
		AddRow("job-9", "Inter", "jit", []byte(`{}`), "processing", 1, 3, 1, "worker-dead", nil, now, now, claimed, nil)
	mock.ExpectQuery("FROM enrichment_jobs").
		WithArgs(float64(600)).
		WillReturnRows(rows)

	jobs, err := q.Stalled(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("Stalled: %v", err)
	}
	if len(jobs) != 1 || jobs[0].FontName != "Inter" {
		t.Fatalf("unexpected stalled jobs: %+v", jobs)
	}
}
