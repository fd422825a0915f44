package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Job statuses. A job is "active" while pending or processing; completed and
// failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultMaxAttempts is the retry ceiling applied to new jobs.
const DefaultMaxAttempts = 3

// Backfill and just-in-time producers use distinct priorities so that live
// query gaps are served before bulk seeding.
const (
	PriorityBackfill   = 0
	PriorityJustInTime = 1
)

const uniqueViolation = pq.ErrorCode("23505")

// Payload carries caller-supplied enrichment hints. Advisory only; the worker
// prefers authoritative catalog data when present.
type Payload struct {
	Category    string            `json:"category,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Files       map[string]string `json:"files,omitempty"`
}

// Job is one unit of catalog enrichment work.
type Job struct {
	ID            string
	FontName      string
	Source        string
	SourcePayload Payload
	Status        Status
	Attempts      int
	MaxAttempts   int
	Priority      int
	WorkerID      string
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClaimedAt     *time.Time
	FinishedAt    *time.Time
}

// Queue is the Postgres-backed enrichment job store. Claim exclusivity is
// delegated to the database: a single conditional UPDATE with FOR UPDATE SKIP
// LOCKED, never read-then-write.
type Queue struct {
	DB *sql.DB
	// BackoffBase is the delay before a failed job becomes claimable again,
	// doubled per attempt. Zero keeps the job immediately eligible.
	BackoffBase time.Duration
}

// New constructs a queue client over an existing connection.
func New(db *sql.DB, backoffBase time.Duration) *Queue {
	return &Queue{DB: db, BackoffBase: backoffBase}
}

// Enqueue inserts a pending job for fontName. When an active job already
// targets the same font the partial unique index rejects the insert and the
// call reports created=false with no error; duplicate enrichment is not a
// failure.
func (q *Queue) Enqueue(ctx context.Context, fontName, source string, payload Payload, priority int) (Job, bool, error) {
	if fontName == "" {
		return Job{}, false, fmt.Errorf("font name required")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Job{}, false, fmt.Errorf("marshal payload: %w", err)
	}

	job := Job{
		FontName:      fontName,
		Source:        source,
		SourcePayload: payload,
		Status:        StatusPending,
		MaxAttempts:   DefaultMaxAttempts,
		Priority:      priority,
	}
	row := q.DB.QueryRowContext(ctx, `
INSERT INTO enrichment_jobs (font_name, source, source_payload, priority, status, max_attempts)
VALUES ($1,$2,$3,$4,'pending',$5)
RETURNING id, created_at, updated_at
`, fontName, source, payloadBytes, priority, DefaultMaxAttempts)
	if err := row.Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return Job{}, false, nil
		}
		return Job{}, false, err
	}
	return job, true, nil
}

// Claim atomically hands the next eligible pending job to workerID,
// transitioning it to processing and incrementing its attempt counter.
// Selection order is highest priority first, then oldest created_at. Returns
// nil when nothing is claimable; callers poll.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	row := q.DB.QueryRowContext(ctx, `
UPDATE enrichment_jobs
SET status='processing', attempts=attempts+1, worker_id=$1, claimed_at=NOW(), updated_at=NOW()
WHERE id = (
  SELECT id FROM enrichment_jobs
  WHERE status='pending' AND (not_before IS NULL OR not_before <= NOW())
  ORDER BY priority DESC, created_at ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
RETURNING id, font_name, source, source_payload, status, attempts, max_attempts, priority, worker_id, last_error, created_at, updated_at, claimed_at, finished_at
`, workerID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Complete transitions a processing job to completed. A no-op for any other
// status, so repeated calls and calls against terminal jobs change nothing.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	_, err := q.DB.ExecContext(ctx, `
UPDATE enrichment_jobs
SET status='completed', finished_at=NOW(), updated_at=NOW()
WHERE id=$1 AND status='processing'
`, jobID)
	return err
}

// Fail records the error on a processing job. When the attempt ceiling is
// reached the job becomes failed (terminal); otherwise it returns to pending
// with a backoff window before it is claimable again.
func (q *Queue) Fail(ctx context.Context, jobID, errorMessage string) error {
	backoffSecs := q.BackoffBase.Seconds()
	_, err := q.DB.ExecContext(ctx, `
UPDATE enrichment_jobs
SET status      = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
    last_error  = $2,
    finished_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE NULL END,
    not_before  = CASE WHEN attempts >= max_attempts THEN NULL ELSE NOW() + make_interval(secs => $3 * power(2, attempts - 1)) END,
    updated_at  = NOW()
WHERE id=$1 AND status='processing'
`, jobID, errorMessage, backoffSecs)
	return err
}

// StatusCounts reports the number of jobs per status.
func (q *Queue) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := q.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM enrichment_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Stalled returns processing jobs whose claim is older than the threshold —
// the signature of a crashed worker. Detection only; recovery is left to
// operational tooling.
func (q *Queue) Stalled(ctx context.Context, olderThan time.Duration) ([]Job, error) {
	if olderThan <= 0 {
		olderThan = 10 * time.Minute
	}
	rows, err := q.DB.QueryContext(ctx, `
SELECT id, font_name, source, source_payload, status, attempts, max_attempts, priority, worker_id, last_error, created_at, updated_at, claimed_at, finished_at
FROM enrichment_jobs
WHERE status='processing' AND claimed_at < NOW() - make_interval(secs => $1)
ORDER BY claimed_at ASC
`, olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// RecentFailures lists the latest terminally failed jobs for diagnostics.
func (q *Queue) RecentFailures(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 || limit > 50 {
		limit = 5
	}
	rows, err := q.DB.QueryContext(ctx, `
SELECT id, font_name, source, source_payload, status, attempts, max_attempts, priority, worker_id, last_error, created_at, updated_at, claimed_at, finished_at
FROM enrichment_jobs
WHERE status='failed'
ORDER BY updated_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job          Job
		workerID     sql.NullString
		lastError    sql.NullString
		payloadBytes []byte
		claimedAt    sql.NullTime
		finishedAt   sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.FontName, &job.Source, &payloadBytes, &job.Status, &job.Attempts,
		&job.MaxAttempts, &job.Priority, &workerID, &lastError, &job.CreatedAt, &job.UpdatedAt, &claimedAt, &finishedAt); err != nil {
		return Job{}, err
	}
	if len(payloadBytes) > 0 {
		if err := json.Unmarshal(payloadBytes, &job.SourcePayload); err != nil {
			return Job{}, fmt.Errorf("unmarshal source payload: %w", err)
		}
	}
	if workerID.Valid {
		job.WorkerID = workerID.String
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	if claimedAt.Valid {
		job.ClaimedAt = &claimedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
