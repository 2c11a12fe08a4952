package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
	"github.com/saturnino-fabrica-de-software/shophook/internal/telemetry"
)

// QueueRecorder receives the per-lane snapshot after each report.
type QueueRecorder interface {
	RecordQueue(lane domain.Lane, snap telemetry.LaneSnapshot)
}

// DeliveryCounter reports ledger totals by status.
type DeliveryCounter interface {
	CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int64, error)
}

type StallRecoverer interface {
	RecoverStalled(ctx context.Context, olderThan time.Duration) (int, error)
}

type HealthOptions struct {
	Interval        time.Duration
	FailedThreshold int64
	StallTimeout    time.Duration
}

// HealthReporter periodically logs waiting, active and failed counts per lane.
// A failed count above the threshold is only a warning.
type HealthReporter struct {
	queue     JobQueue
	recoverer StallRecoverer
	recorder  QueueRecorder
	ledger    DeliveryCounter
	clock     clockwork.Clock
	logger    *slog.Logger
	opts      HealthOptions
}

func NewHealthReporter(q JobQueue, recoverer StallRecoverer, recorder QueueRecorder, clock clockwork.Clock, logger *slog.Logger, opts HealthOptions) *HealthReporter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &HealthReporter{
		queue:     q,
		recoverer: recoverer,
		recorder:  recorder,
		clock:     clock,
		logger:    logger,
		opts:      opts,
	}
}

// WithLedger adds delivery record totals to each report.
func (h *HealthReporter) WithLedger(c DeliveryCounter) *HealthReporter {
	h.ledger = c
	return h
}

func (h *HealthReporter) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := h.Report(ctx); err != nil {
				h.logger.Error("health report failed", "error", err)
			}
		}
	}
}

// Report runs stall recovery, then logs and records one snapshot per lane.
func (h *HealthReporter) Report(ctx context.Context) (map[domain.Lane]queue.Counts, error) {
	if h.recoverer != nil && h.opts.StallTimeout > 0 {
		if n, err := h.recoverer.RecoverStalled(ctx, h.opts.StallTimeout); err != nil {
			h.logger.Error("stall recovery failed", "error", err)
		} else if n > 0 {
			h.logger.Warn("stalled jobs recovered", "count", n)
		}
	}

	counts, err := h.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}

	for _, lane := range domain.Lanes {
		c := counts[lane]
		h.logger.Info("queue health",
			"lane", lane,
			"waiting", c.Waiting,
			"delayed", c.Delayed,
			"active", c.Active,
			"failed", c.Failed,
		)
		if h.opts.FailedThreshold > 0 && c.Failed > h.opts.FailedThreshold {
			h.logger.Warn("failed jobs above threshold",
				"lane", lane,
				"failed", c.Failed,
				"threshold", h.opts.FailedThreshold,
			)
		}

		if h.recorder != nil {
			h.recorder.RecordQueue(lane, telemetry.LaneSnapshot{
				"waiting":   c.Waiting,
				"delayed":   c.Delayed,
				"active":    c.Active,
				"completed": c.Completed,
				"failed":    c.Failed,
				"cancelled": c.Cancelled,
			})
		}
	}

	if h.ledger != nil {
		h.reportLedger(ctx)
	}

	return counts, nil
}

func (h *HealthReporter) reportLedger(ctx context.Context) {
	byStatus, err := h.ledger.CountByStatus(ctx)
	if err != nil {
		h.logger.Error("count delivery records", "error", err)
		return
	}
	h.logger.Info("ledger health",
		"pending", byStatus[domain.DeliveryPending],
		"processing", byStatus[domain.DeliveryProcessing],
		"retry", byStatus[domain.DeliveryRetry],
		"success", byStatus[domain.DeliverySuccess],
		"failed", byStatus[domain.DeliveryFailed],
	)
}
