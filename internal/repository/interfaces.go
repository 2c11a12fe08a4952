package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

// TenantRepositoryInterface defines operations for tenant data access
type TenantRepositoryInterface interface {
	GetByKey(ctx context.Context, shopDomain string) (*domain.Tenant, error)
	Upsert(ctx context.Context, tenant *domain.Tenant) error
	MarkUninstalled(ctx context.Context, shopDomain string, at time.Time) error
	Delete(ctx context.Context, shopDomain string) error
	UpdateSettings(ctx context.Context, shopDomain string, patch map[string]interface{}) error
}

// DeliveryRepositoryInterface defines operations on the delivery ledger
type DeliveryRepositoryInterface interface {
	Create(ctx context.Context, rec *domain.DeliveryRecord) error
	AttachJob(ctx context.Context, id, jobID uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, message string) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	ListByTenant(ctx context.Context, shopDomain, topic string, limit int) ([]domain.DeliveryRecord, error)
	CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int64, error)
}

// SessionRepositoryInterface defines operations for platform session storage
type SessionRepositoryInterface interface {
	Save(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	DeleteByTenant(ctx context.Context, shopDomain string) (int64, error)
}

var (
	_ TenantRepositoryInterface   = (*TenantRepository)(nil)
	_ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)
	_ SessionRepositoryInterface  = (*SessionRepository)(nil)
)
