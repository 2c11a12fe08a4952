package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
	"github.com/saturnino-fabrica-de-software/shophook/internal/repository"
)

// Enqueuer is the part of *queue.Queue the dispatcher needs.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, db database.DBTX, lane domain.Lane, jobType string, payload []byte, opts queue.EnqueueOptions) (uuid.UUID, error)
}

// Notifier wakes idle workers after a job is committed.
type Notifier interface {
	Notify(ctx context.Context, lane domain.Lane)
}

// Recorder observes accepted deliveries for metrics.
type Recorder interface {
	WebhookReceived(ctx context.Context, valid bool)
}

type Dispatcher struct {
	pool       database.Pool
	deliveries *repository.DeliveryRepository
	queue      Enqueuer
	notifier   Notifier
	recorder   Recorder
	clock      clockwork.Clock
	logger     *slog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithNotifier(n Notifier) DispatcherOption {
	return func(d *Dispatcher) { d.notifier = n }
}

func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithClock(c clockwork.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

func NewDispatcher(pool database.Pool, q Enqueuer, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pool:       pool,
		deliveries: repository.NewDeliveryRepository(pool),
		queue:      q,
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Accept persists a delivery record for every call. Only verified events get a
// job, and the record insert and the enqueue commit together. Unknown topics
// are stored and enqueued like any other, with a warning.
func (d *Dispatcher) Accept(ctx context.Context, in Inbound, signatureValid bool) (uuid.UUID, error) {
	topic, known := domain.ParseTopic(in.Topic)
	rec := &domain.DeliveryRecord{
		ID:         uuid.New(),
		ShopDomain: in.ShopDomain,
		Topic:      topic.String(),
		Headers:    in.Headers,
		Body:       in.Body,
		Query:      in.Query,
		HMACValid:  signatureValid,
		Status:     domain.DeliveryPending,
	}
	if in.EventID != "" {
		eventID := in.EventID
		rec.EventID = &eventID
	}
	if !signatureValid {
		now := d.clock.Now()
		msg := domain.RejectedSignatureMessage
		rec.Status = domain.DeliveryFailed
		rec.ErrorMessage = &msg
		rec.ProcessedAt = &now
	}

	err := database.InTx(ctx, d.pool, func(tx pgx.Tx) error {
		deliveries := d.deliveries.WithTx(tx)
		if err := deliveries.Create(ctx, rec); err != nil {
			return err
		}
		if !signatureValid {
			return nil
		}

		payload, err := json.Marshal(domain.WebhookJobPayload{
			DeliveryID: rec.ID,
			ShopDomain: rec.ShopDomain,
			Topic:      rec.Topic,
			EventID:    in.EventID,
		})
		if err != nil {
			return fmt.Errorf("encode job payload: %w", err)
		}

		jobID, err := d.queue.EnqueueTx(ctx, tx, domain.LaneWebhook, rec.Topic, payload, queue.EnqueueOptions{})
		if err != nil {
			return err
		}
		rec.JobID = &jobID
		return deliveries.AttachJob(ctx, rec.ID, jobID)
	})
	if err != nil {
		d.logger.Error("accept webhook", "tenant", rec.ShopDomain, "topic", rec.Topic, "error", err)
		return uuid.Nil, domain.ErrStoreUnavailable.WithError(err)
	}

	if d.recorder != nil {
		d.recorder.WebhookReceived(ctx, signatureValid)
	}

	if !signatureValid {
		d.logger.Warn("webhook rejected", "delivery_id", rec.ID, "tenant", rec.ShopDomain, "topic", rec.Topic)
		return rec.ID, nil
	}

	d.logger.Info("webhook accepted", "delivery_id", rec.ID, "job_id", *rec.JobID, "tenant", rec.ShopDomain, "topic", rec.Topic)
	if !known {
		d.logger.Warn("unknown webhook topic", "delivery_id", rec.ID, "tenant", rec.ShopDomain, "topic", rec.Topic)
	}
	if d.notifier != nil {
		d.notifier.Notify(ctx, domain.LaneWebhook)
	}
	return rec.ID, nil
}
