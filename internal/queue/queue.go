// Package queue is a Postgres-backed job queue with independent lanes.
//
// A job is claimed by a single UPDATE that flips pending to running on a row
// selected with FOR UPDATE SKIP LOCKED, so concurrent pollers in any number of
// processes never claim the same job twice.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

// Outcome is the result of recording a failed attempt.
type Outcome string

const (
	OutcomeRetry  Outcome = "retry"
	OutcomeFailed Outcome = "failed"
)

// EnqueueOptions customise a single job. Zero values take the queue defaults.
type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int
}

// Failure is what a worker reports for a failed attempt.
type Failure struct {
	Message string
	Stack   string
}

// FailResult describes where a failed job went.
type FailResult struct {
	Outcome   Outcome
	Attempts  int
	NextRunAt time.Time
}

// Counts is a snapshot of one lane.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Recovered is a stalled job that was routed back through Fail.
type Recovered struct {
	Job    *domain.Job
	Result FailResult
}

type Option func(*Queue)

func WithClock(c clockwork.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(q *Queue) { q.retry = p }
}

func WithDefaultMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

type Queue struct {
	pool        database.Pool
	clock       clockwork.Clock
	retry       RetryPolicy
	maxAttempts int
	logger      *slog.Logger

	mu     sync.RWMutex
	paused map[domain.Lane]bool
}

func New(pool database.Pool, opts ...Option) *Queue {
	q := &Queue{
		pool:        pool,
		clock:       clockwork.NewRealClock(),
		retry:       DefaultRetryPolicy(),
		maxAttempts: 3,
		logger:      slog.Default(),
		paused:      make(map[domain.Lane]bool),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Clock() clockwork.Clock {
	return q.clock
}

const jobColumns = `id, lane, type, payload, status, attempts, max_attempts, scheduled_for, started_at, completed_at, failed_at, error_message, error_stack, created_at, updated_at`

func (q *Queue) Enqueue(ctx context.Context, lane domain.Lane, jobType string, payload []byte, opts EnqueueOptions) (uuid.UUID, error) {
	return q.EnqueueTx(ctx, q.pool, lane, jobType, payload, opts)
}

// EnqueueTx inserts the job through db, which may be an open transaction.
func (q *Queue) EnqueueTx(ctx context.Context, db database.DBTX, lane domain.Lane, jobType string, payload []byte, opts EnqueueOptions) (uuid.UUID, error) {
	if !lane.Valid() {
		return uuid.Nil, domain.ErrUnknownLane
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	id := uuid.New()
	now := q.clock.Now()

	query := `
		INSERT INTO jobs (id, lane, type, payload, status, attempts, max_attempts, scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, $7, $7)
	`
	if _, err := db.Exec(ctx, query, id, string(lane), jobType, payload, maxAttempts, now.Add(opts.Delay), now); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	return id, nil
}

// DequeueNext claims the oldest due job on the lane. It returns nil, nil when
// the lane is paused or nothing is due.
func (q *Queue) DequeueNext(ctx context.Context, lane domain.Lane) (*domain.Job, error) {
	if !lane.Valid() {
		return nil, domain.ErrUnknownLane
	}
	if q.IsPaused(lane) {
		return nil, nil
	}

	query := `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE lane = $1 AND status = 'pending' AND scheduled_for <= $2 AND attempts < max_attempts
			ORDER BY scheduled_for, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = 'pending'
		RETURNING ` + jobColumns

	job, err := scanJob(q.pool.QueryRow(ctx, query, string(lane), q.clock.Now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Complete marks the run identified by id and attempts as done. A run that was
// recovered and claimed again no longer matches and yields ErrJobNotRunning.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID, attempts int) error {
	query := `
		UPDATE jobs
		SET status = 'completed', completed_at = $2, error_message = NULL, error_stack = NULL, updated_at = $2
		WHERE id = $1 AND status = 'running' AND attempts = $3
	`
	result, err := q.pool.Exec(ctx, query, id, q.clock.Now(), attempts)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrJobNotRunning
	}
	return nil
}

// Fail records a failed attempt on the run identified by id and attempts.
// While attempts remain the job goes back to pending with a backoff delay;
// otherwise it becomes failed.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, attempts int, failure Failure) (FailResult, error) {
	var res FailResult
	err := database.InTx(ctx, q.pool, func(tx pgx.Tx) error {
		var err error
		res, err = q.failTx(ctx, tx, id, attempts, failure)
		return err
	})
	return res, err
}

func (q *Queue) failTx(ctx context.Context, tx database.DBTX, id uuid.UUID, claimed int, failure Failure) (FailResult, error) {
	var attempts, maxAttempts int
	err := tx.QueryRow(ctx,
		`SELECT attempts, max_attempts FROM jobs WHERE id = $1 AND status = 'running' AND attempts = $2 FOR UPDATE`,
		id, claimed,
	).Scan(&attempts, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return FailResult{}, domain.ErrJobNotRunning
	}
	if err != nil {
		return FailResult{}, fmt.Errorf("load failed job: %w", err)
	}

	now := q.clock.Now()
	res := FailResult{Attempts: attempts}

	if attempts < maxAttempts {
		res.Outcome = OutcomeRetry
		res.NextRunAt = now.Add(q.retry.Delay(attempts))
		_, err = tx.Exec(ctx, `
			UPDATE jobs
			SET status = 'pending', scheduled_for = $2, error_message = $3, error_stack = $4, updated_at = $5
			WHERE id = $1
		`, id, res.NextRunAt, failure.Message, nullable(failure.Stack), now)
	} else {
		res.Outcome = OutcomeFailed
		_, err = tx.Exec(ctx, `
			UPDATE jobs
			SET status = 'failed', failed_at = $2, error_message = $3, error_stack = $4, updated_at = $2
			WHERE id = $1
		`, id, now, failure.Message, nullable(failure.Stack))
	}
	if err != nil {
		return FailResult{}, fmt.Errorf("record job failure: %w", err)
	}

	return res, nil
}

// Cancel stops a pending job from ever being claimed.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) error {
	result, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, q.clock.Now())
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrJobNotRunning
	}
	return nil
}

// Requeue is the explicit failed to pending step. Attempts start over.
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID) error {
	now := q.clock.Now()
	result, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', attempts = 0, scheduled_for = $2, failed_at = NULL,
			error_message = NULL, error_stack = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed'
	`, id, now)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrJobNotRunning
	}
	return nil
}

// RecoverStalled fails running jobs whose claim is older than olderThan. The
// lost run counts as an attempt.
func (q *Queue) RecoverStalled(ctx context.Context, lane domain.Lane, olderThan time.Duration) ([]Recovered, error) {
	cutoff := q.clock.Now().Add(-olderThan)

	rows, err := q.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE lane = $1 AND status = 'running' AND started_at < $2
		ORDER BY started_at
		LIMIT 100
	`, string(lane), cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stalled jobs: %w", err)
	}

	var stalled []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stalled job: %w", err)
		}
		stalled = append(stalled, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stalled jobs: %w", err)
	}

	var recovered []Recovered
	for _, job := range stalled {
		res, err := q.Fail(ctx, job.ID, job.Attempts, Failure{
			Message: fmt.Sprintf("stalled: running since %s", job.StartedAt.Format(time.RFC3339)),
		})
		if errors.Is(err, domain.ErrJobNotRunning) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		q.logger.Warn("recovered stalled job", "job_id", job.ID, "lane", lane, "attempts", res.Attempts, "outcome", res.Outcome)
		recovered = append(recovered, Recovered{Job: job, Result: res})
	}
	return recovered, nil
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Counts returns a per-lane snapshot. Every lane is present even when empty.
func (q *Queue) Counts(ctx context.Context) (map[domain.Lane]Counts, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT lane, status, scheduled_for > $1 AS delayed, COUNT(*)
		FROM jobs
		GROUP BY lane, status, delayed
	`, q.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Lane]Counts, len(domain.Lanes))
	for _, lane := range domain.Lanes {
		out[lane] = Counts{}
	}

	for rows.Next() {
		var (
			lane, status string
			delayed      bool
			n            int64
		)
		if err := rows.Scan(&lane, &status, &delayed, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}

		c := out[domain.Lane(lane)]
		switch domain.JobStatus(status) {
		case domain.JobPending:
			if delayed {
				c.Delayed += n
			} else {
				c.Waiting += n
			}
		case domain.JobRunning:
			c.Active += n
		case domain.JobCompleted:
			c.Completed += n
		case domain.JobFailed:
			c.Failed += n
		case domain.JobCancelled:
			c.Cancelled += n
		}
		out[domain.Lane(lane)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}

	return out, nil
}

// Pause stops new claims on the lane for this Queue. In-flight jobs are untouched.
func (q *Queue) Pause(lane domain.Lane) {
	q.mu.Lock()
	q.paused[lane] = true
	q.mu.Unlock()
}

func (q *Queue) Resume(lane domain.Lane) {
	q.mu.Lock()
	delete(q.paused, lane)
	q.mu.Unlock()
}

func (q *Queue) IsPaused(lane domain.Lane) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.paused[lane]
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		lane, state string
	)
	err := row.Scan(
		&job.ID,
		&lane,
		&job.Type,
		&job.Payload,
		&state,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledFor,
		&job.StartedAt,
		&job.CompletedAt,
		&job.FailedAt,
		&job.ErrorMessage,
		&job.ErrorStack,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Lane = domain.Lane(lane)
	job.Status = domain.JobStatus(state)
	return &job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
