package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
)

// TenantLister yields the shop domains that should have a usable credential.
type TenantLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

// JobEnqueuer is the producer side of the queue. *queue.Queue implements it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, lane domain.Lane, jobType string, payload []byte, opts queue.EnqueueOptions) (uuid.UUID, error)
}

// CredentialSweeper schedules a credential check on the general lane for every
// active tenant, once per interval.
type CredentialSweeper struct {
	tenants  TenantLister
	jobs     JobEnqueuer
	clock    clockwork.Clock
	logger   *slog.Logger
	interval time.Duration
}

func NewCredentialSweeper(tenants TenantLister, jobs JobEnqueuer, clock clockwork.Clock, logger *slog.Logger, interval time.Duration) *CredentialSweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CredentialSweeper{
		tenants:  tenants,
		jobs:     jobs,
		clock:    clock,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps on every tick until ctx is cancelled. A non-positive interval
// turns the sweeper off.
func (s *CredentialSweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("credential sweep disabled")
		return
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("credential sweep failed", "error", err)
			}
		}
	}
}

// Sweep enqueues one check per active tenant and returns how many were
// scheduled. A failed enqueue does not stop the rest of the sweep.
func (s *CredentialSweeper) Sweep(ctx context.Context) (int, error) {
	shops, err := s.tenants.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants for credential sweep: %w", err)
	}

	var (
		scheduled int
		errs      []error
	)
	for _, shop := range shops {
		payload, err := json.Marshal(domain.TenantJobPayload{ShopDomain: shop})
		if err != nil {
			errs = append(errs, fmt.Errorf("encode check for %s: %w", shop, err))
			continue
		}
		if _, err := s.jobs.Enqueue(ctx, domain.LaneGeneral, domain.JobTypeCredentialCheck, payload, queue.EnqueueOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue check for %s: %w", shop, err))
			continue
		}
		scheduled++
	}

	s.logger.Info("credential checks scheduled", "tenants", len(shops), "scheduled", scheduled)
	return scheduled, errors.Join(errs...)
}
