package worker

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
)

// memQueue is an in-memory JobQueue with the same state rules as the
// Postgres queue, minus scheduling delays.
type memQueue struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*domain.Job
	order    []uuid.UUID
	paused   map[domain.Lane]bool
	failures map[uuid.UUID][]queue.Failure
	stalled  []queue.Recovered
}

func newMemQueue() *memQueue {
	return &memQueue{
		jobs:     make(map[uuid.UUID]*domain.Job),
		paused:   make(map[domain.Lane]bool),
		failures: make(map[uuid.UUID][]queue.Failure),
	}
}

func (q *memQueue) add(lane domain.Lane, jobType string, payload any, maxAttempts int) *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, _ := json.Marshal(payload)
	job := &domain.Job{
		ID:          uuid.New(),
		Lane:        lane,
		Type:        jobType,
		Payload:     b,
		Status:      domain.JobPending,
		MaxAttempts: maxAttempts,
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	return job
}

func (q *memQueue) get(id uuid.UUID) domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.jobs[id]
}

func (q *memQueue) Enqueue(_ context.Context, lane domain.Lane, jobType string, payload []byte, opts queue.EnqueueOptions) (uuid.UUID, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return q.add(lane, jobType, json.RawMessage(payload), maxAttempts).ID, nil
}

// reclaim simulates stall recovery followed by another worker's claim.
func (q *memQueue) reclaim(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[id].Attempts++
}

func (q *memQueue) DequeueNext(_ context.Context, lane domain.Lane) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused[lane] {
		return nil, nil
	}
	for _, id := range q.order {
		j := q.jobs[id]
		if j.Lane == lane && j.Status == domain.JobPending && j.Attempts < j.MaxAttempts {
			j.Status = domain.JobRunning
			j.Attempts++
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (q *memQueue) Complete(_ context.Context, id uuid.UUID, attempts int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.jobs[id]
	if j == nil || j.Status != domain.JobRunning || j.Attempts != attempts {
		return domain.ErrJobNotRunning
	}
	j.Status = domain.JobCompleted
	return nil
}

func (q *memQueue) Fail(_ context.Context, id uuid.UUID, attempts int, f queue.Failure) (queue.FailResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.jobs[id]
	if j == nil || j.Status != domain.JobRunning || j.Attempts != attempts {
		return queue.FailResult{}, domain.ErrJobNotRunning
	}
	q.failures[id] = append(q.failures[id], f)
	msg := f.Message
	j.ErrorMessage = &msg

	if j.Attempts < j.MaxAttempts {
		j.Status = domain.JobPending
		return queue.FailResult{Outcome: queue.OutcomeRetry, Attempts: j.Attempts}, nil
	}
	j.Status = domain.JobFailed
	return queue.FailResult{Outcome: queue.OutcomeFailed, Attempts: j.Attempts}, nil
}

func (q *memQueue) Pause(lane domain.Lane) {
	q.mu.Lock()
	q.paused[lane] = true
	q.mu.Unlock()
}

func (q *memQueue) Resume(lane domain.Lane) {
	q.mu.Lock()
	delete(q.paused, lane)
	q.mu.Unlock()
}

func (q *memQueue) RecoverStalled(_ context.Context, lane domain.Lane, _ time.Duration) ([]queue.Recovered, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []queue.Recovered
	for _, r := range q.stalled {
		if r.Job.Lane == lane {
			out = append(out, r)
		}
	}
	return out, nil
}

func (q *memQueue) Counts(context.Context) (map[domain.Lane]queue.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := map[domain.Lane]queue.Counts{}
	for _, j := range q.jobs {
		c := out[j.Lane]
		switch j.Status {
		case domain.JobPending:
			c.Waiting++
		case domain.JobRunning:
			c.Active++
		case domain.JobCompleted:
			c.Completed++
		case domain.JobFailed:
			c.Failed++
		}
		out[j.Lane] = c
	}
	return out, nil
}

type memDeliveries struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*domain.DeliveryRecord
}

func newMemDeliveries() *memDeliveries {
	return &memDeliveries{recs: make(map[uuid.UUID]*domain.DeliveryRecord)}
}

func (d *memDeliveries) add(shop, topic string, valid bool) *domain.DeliveryRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := &domain.DeliveryRecord{
		ID:         uuid.New(),
		ShopDomain: shop,
		Topic:      topic,
		Body:       []byte(`{}`),
		HMACValid:  valid,
		Status:     domain.DeliveryPending,
	}
	d.recs[rec.ID] = rec
	return rec
}

func (d *memDeliveries) status(id uuid.UUID) domain.DeliveryStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recs[id].Status
}

func (d *memDeliveries) Get(_ context.Context, id uuid.UUID) (*domain.DeliveryRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.recs[id]
	if !ok {
		return nil, domain.ErrDeliveryNotFound
	}
	cp := *rec
	return &cp, nil
}

func (d *memDeliveries) set(id uuid.UUID, fn func(*domain.DeliveryRecord) bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.recs[id]
	if !ok || !fn(rec) {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

func (d *memDeliveries) MarkProcessing(_ context.Context, id uuid.UUID, at time.Time) error {
	return d.set(id, func(r *domain.DeliveryRecord) bool {
		if !r.HMACValid || r.Status == domain.DeliverySuccess {
			return false
		}
		r.Status = domain.DeliveryProcessing
		r.Attempts++
		r.LastAttemptAt = &at
		return true
	})
}

func (d *memDeliveries) MarkSuccess(_ context.Context, id uuid.UUID, at time.Time) error {
	return d.set(id, func(r *domain.DeliveryRecord) bool {
		if !r.HMACValid {
			return false
		}
		r.Status = domain.DeliverySuccess
		r.ProcessedAt = &at
		return true
	})
}

func (d *memDeliveries) MarkRetry(_ context.Context, id uuid.UUID, msg string) error {
	return d.set(id, func(r *domain.DeliveryRecord) bool {
		r.Status = domain.DeliveryRetry
		r.ErrorMessage = &msg
		return true
	})
}

func (d *memDeliveries) MarkFailed(_ context.Context, id uuid.UUID, msg string, at time.Time) error {
	return d.set(id, func(r *domain.DeliveryRecord) bool {
		r.Status = domain.DeliveryFailed
		r.ErrorMessage = &msg
		r.ProcessedAt = &at
		return true
	})
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) JobProcessed(_ context.Context, _ domain.Lane, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

// syncBuffer lets tests read log output written from pool goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBufferedLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
