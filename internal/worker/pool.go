package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/notify"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
)

// ErrShutdownTimeout means in-flight jobs were still running when the drain
// deadline passed.
var ErrShutdownTimeout = errors.New("worker: shutdown timed out with jobs in flight")

// JobQueue is the queue surface the pool drives. *queue.Queue implements it.
type JobQueue interface {
	DequeueNext(ctx context.Context, lane domain.Lane) (*domain.Job, error)
	Complete(ctx context.Context, id uuid.UUID, attempts int) error
	Fail(ctx context.Context, id uuid.UUID, attempts int, failure queue.Failure) (queue.FailResult, error)
	Pause(lane domain.Lane)
	Resume(lane domain.Lane)
	RecoverStalled(ctx context.Context, lane domain.Lane, olderThan time.Duration) ([]queue.Recovered, error)
	Counts(ctx context.Context) (map[domain.Lane]queue.Counts, error)
}

// DeliveryStore is the ledger surface the pool updates.
type DeliveryStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, message string) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error
}

// Metrics receives one call per finished attempt.
type Metrics interface {
	JobProcessed(ctx context.Context, lane domain.Lane, outcome string)
}

// HandlerError is a failed attempt: a returned error or a recovered panic.
type HandlerError struct {
	Message string
	Stack   string
}

func (e *HandlerError) Error() string {
	return e.Message
}

type Options struct {
	Concurrency     map[domain.Lane]int
	PollInterval    time.Duration
	ClaimRate       float64
	ShutdownTimeout time.Duration

	// HandlerTimeout bounds one handler run. Keep it below the stall timeout
	// so a slow run is cut off before recovery hands the job to another worker.
	HandlerTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Concurrency: map[domain.Lane]int{
			domain.LaneWebhook: 4,
			domain.LaneGeneral: 2,
		},
		PollInterval:    time.Second,
		ClaimRate:       50,
		HandlerTimeout:  2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

type Pool struct {
	queue      JobQueue
	deliveries DeliveryStore
	handlers   *Handlers
	bus        notify.Bus
	metrics    Metrics
	clock      clockwork.Clock
	logger     *slog.Logger
	opts       Options

	active atomic.Int64
}

type PoolOption func(*Pool)

func WithBus(b notify.Bus) PoolOption {
	return func(p *Pool) { p.bus = b }
}

func WithMetrics(m Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

func WithClock(c clockwork.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

func NewPool(q JobQueue, deliveries DeliveryStore, handlers *Handlers, logger *slog.Logger, opts Options, options ...PoolOption) *Pool {
	defaults := DefaultOptions()
	if opts.Concurrency == nil {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaults.HandlerTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaults.ShutdownTimeout
	}

	p := &Pool{
		queue:      q,
		deliveries: deliveries,
		handlers:   handlers,
		bus:        notify.Noop{},
		clock:      clockwork.NewRealClock(),
		logger:     logger,
		opts:       opts,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Active is the number of claims in progress plus jobs executing right now.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Run polls every lane until ctx is cancelled. A panic escaping a poller is
// returned as an error so the process can exit non-zero.
func (p *Pool) Run(ctx context.Context) error {
	var wg conc.WaitGroup

	for _, lane := range domain.Lanes {
		n := p.opts.Concurrency[lane]
		if n <= 0 {
			continue
		}

		limiter := rate.NewLimiter(rate.Inf, n)
		if p.opts.ClaimRate > 0 {
			limiter = rate.NewLimiter(rate.Limit(p.opts.ClaimRate), n)
		}

		wake, err := p.bus.Wakeups(lane)
		if err != nil {
			p.logger.Warn("wake-ups unavailable, polling only", "lane", lane, "error", err)
		}

		p.logger.Info("starting pollers", "lane", lane, "concurrency", n)
		for i := 0; i < n; i++ {
			wg.Go(func() { p.poll(ctx, lane, limiter, wake) })
		}
	}

	if r := wg.WaitAndRecover(); r != nil {
		return fmt.Errorf("worker poller panicked: %v", r.Value)
	}
	return nil
}

func (p *Pool) poll(ctx context.Context, lane domain.Lane, limiter *rate.Limiter, wake <-chan struct{}) {
	ticker := p.clock.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		processed, err := p.processNext(ctx, lane)
		if err != nil {
			p.logger.Error("poll failed", "lane", lane, "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-wake:
		}
	}
}

// processNext claims and runs at most one job. The slot is counted before the
// claim so Shutdown never sees zero while a claimed job is still on its way
// back. Handler execution is detached from ctx so cancelling the poll loop
// never interrupts a job mid-run.
func (p *Pool) processNext(ctx context.Context, lane domain.Lane) (bool, error) {
	p.active.Add(1)
	defer p.active.Add(-1)

	job, err := p.queue.DequeueNext(ctx, lane)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	p.execute(context.WithoutCancel(ctx), job)
	return true, nil
}

func (p *Pool) execute(ctx context.Context, job *domain.Job) {
	log := p.logger.With("job_id", job.ID, "lane", job.Lane, "type", job.Type, "attempts", job.Attempts)
	task := Task{Job: job}

	if job.Lane == domain.LaneWebhook {
		rec, err := p.loadDelivery(ctx, job)
		if err != nil {
			p.fail(ctx, log, job, nil, &HandlerError{Message: err.Error()})
			return
		}
		if !rec.HMACValid {
			log.Error("job references unverified delivery, skipping", "delivery_id", rec.ID)
			p.complete(ctx, log, job, nil, "skipped")
			return
		}
		if err := p.deliveries.MarkProcessing(ctx, rec.ID, p.clock.Now()); err != nil {
			log.Warn("mark delivery processing", "delivery_id", rec.ID, "error", err)
		}
		task.Delivery = rec
		log = log.With("delivery_id", rec.ID, "tenant", rec.ShopDomain)
	}

	handler, ok := p.handlers.Lookup(job.Lane, job.Type)
	if !ok {
		log.Warn("no handler registered, acknowledging")
		p.complete(ctx, log, job, task.Delivery, "unhandled")
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.opts.HandlerTimeout)
	herr := runHandler(runCtx, handler, task)
	cancel()
	if herr != nil {
		p.fail(ctx, log, job, task.Delivery, herr)
		return
	}
	p.complete(ctx, log, job, task.Delivery, "completed")
}

// runHandler converts both returned errors and panics into a HandlerError.
func runHandler(ctx context.Context, handler Handler, task Task) *HandlerError {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() { err = handler(ctx, task) })

	if r := catcher.Recovered(); r != nil {
		return &HandlerError{
			Message: fmt.Sprintf("panic: %v", r.Value),
			Stack:   string(r.Stack),
		}
	}
	if err != nil {
		return &HandlerError{Message: err.Error()}
	}
	return nil
}

func (p *Pool) loadDelivery(ctx context.Context, job *domain.Job) (*domain.DeliveryRecord, error) {
	var payload domain.WebhookJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	rec, err := p.deliveries.Get(ctx, payload.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("load delivery %s: %w", payload.DeliveryID, err)
	}
	return rec, nil
}

func (p *Pool) complete(ctx context.Context, log *slog.Logger, job *domain.Job, rec *domain.DeliveryRecord, outcome string) {
	if err := p.queue.Complete(ctx, job.ID, job.Attempts); err != nil {
		log.Error("complete job", "error", err)
		return
	}
	if rec != nil {
		if err := p.deliveries.MarkSuccess(ctx, rec.ID, p.clock.Now()); err != nil {
			log.Error("mark delivery success", "error", err)
		}
	}
	p.record(ctx, job.Lane, outcome)
	log.Info("job completed", "outcome", outcome)
}

func (p *Pool) fail(ctx context.Context, log *slog.Logger, job *domain.Job, rec *domain.DeliveryRecord, herr *HandlerError) {
	res, err := p.queue.Fail(ctx, job.ID, job.Attempts, queue.Failure{Message: herr.Message, Stack: herr.Stack})
	if err != nil {
		log.Error("record job failure", "error", err, "handler_error", herr.Message)
		return
	}

	p.settleDelivery(ctx, log, rec, res, herr.Message)
	p.record(ctx, job.Lane, string(res.Outcome))

	if res.Outcome == queue.OutcomeFailed {
		log.Warn("job failed permanently", "error", herr.Message)
		return
	}
	log.Info("job scheduled for retry", "error", herr.Message, "next_run_at", res.NextRunAt)
}

func (p *Pool) settleDelivery(ctx context.Context, log *slog.Logger, rec *domain.DeliveryRecord, res queue.FailResult, msg string) {
	if rec == nil {
		return
	}

	var err error
	if res.Outcome == queue.OutcomeFailed {
		err = p.deliveries.MarkFailed(ctx, rec.ID, msg, p.clock.Now())
	} else {
		err = p.deliveries.MarkRetry(ctx, rec.ID, msg)
	}
	if err != nil {
		log.Error("update delivery after failure", "delivery_id", rec.ID, "error", err)
	}
}

// RecoverStalled returns stalled running jobs to the fail path and keeps their
// delivery records in step.
func (p *Pool) RecoverStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	total := 0
	for _, lane := range domain.Lanes {
		recovered, err := p.queue.RecoverStalled(ctx, lane, olderThan)
		if err != nil {
			return total, err
		}
		for _, r := range recovered {
			total++
			p.record(ctx, lane, string(r.Result.Outcome))
			if lane != domain.LaneWebhook {
				continue
			}
			rec, err := p.loadDelivery(ctx, r.Job)
			if err != nil {
				p.logger.Warn("stalled job without delivery", "job_id", r.Job.ID, "error", err)
				continue
			}
			p.settleDelivery(ctx, p.logger.With("job_id", r.Job.ID), rec, r.Result, "stalled: worker lost")
		}
	}
	return total, nil
}

// Shutdown pauses every lane and waits for in-flight jobs to finish. It
// returns ErrShutdownTimeout if they do not finish within ShutdownTimeout.
func (p *Pool) Shutdown(ctx context.Context) error {
	for _, lane := range domain.Lanes {
		p.queue.Pause(lane)
	}
	p.logger.Info("worker draining", "active", p.Active())

	deadline := p.clock.After(p.opts.ShutdownTimeout)
	ticker := p.clock.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.Active() == 0 {
			p.logger.Info("worker drained")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			p.logger.Error("worker drain timed out", "active", p.Active())
			return ErrShutdownTimeout
		case <-ticker.Chan():
		}
	}
}

func (p *Pool) record(ctx context.Context, lane domain.Lane, outcome string) {
	if p.metrics != nil {
		p.metrics.JobProcessed(ctx, lane, outcome)
	}
}
