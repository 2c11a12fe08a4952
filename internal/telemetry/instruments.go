package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

// LaneSnapshot is the per-state job count for one lane.
type LaneSnapshot map[string]int64

// Instruments holds every metric the services emit.
type Instruments struct {
	processed metric.Int64Counter
	received  metric.Int64Counter

	mu        sync.RWMutex
	snapshots map[domain.Lane]LaneSnapshot
}

func NewInstruments(meter metric.Meter) (*Instruments, error) {
	inst := &Instruments{snapshots: make(map[domain.Lane]LaneSnapshot)}

	var err error
	inst.processed, err = meter.Int64Counter("shophook_jobs_processed_total",
		metric.WithDescription("Jobs finished by the worker pool, by lane and outcome"))
	if err != nil {
		return nil, fmt.Errorf("create processed counter: %w", err)
	}

	inst.received, err = meter.Int64Counter("shophook_webhooks_received_total",
		metric.WithDescription("Inbound webhooks persisted, by signature validity"))
	if err != nil {
		return nil, fmt.Errorf("create received counter: %w", err)
	}

	_, err = meter.Int64ObservableGauge("shophook_queue_jobs",
		metric.WithDescription("Jobs per lane and state at the last health report"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			inst.mu.RLock()
			defer inst.mu.RUnlock()
			for lane, snap := range inst.snapshots {
				for state, n := range snap {
					o.Observe(n, metric.WithAttributes(
						attribute.String("lane", string(lane)),
						attribute.String("state", state),
					))
				}
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create queue gauge: %w", err)
	}

	return inst, nil
}

func (i *Instruments) JobProcessed(ctx context.Context, lane domain.Lane, outcome string) {
	i.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lane", string(lane)),
		attribute.String("outcome", outcome),
	))
}

func (i *Instruments) WebhookReceived(ctx context.Context, valid bool) {
	i.received.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}

// RecordQueue replaces the snapshot reported by the queue gauge.
func (i *Instruments) RecordQueue(lane domain.Lane, snap LaneSnapshot) {
	i.mu.Lock()
	i.snapshots[lane] = snap
	i.mu.Unlock()
}

func (i *Instruments) Snapshot(lane domain.Lane) LaneSnapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.snapshots[lane]
}
