package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/repository"
)

// Cipher seals and opens credential blobs. *vault.Vault implements it.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// TenantRegistry owns the tenant lifecycle. Credentials and session data are
// encrypted on the way into the repositories and decrypted on the way out.
type TenantRegistry struct {
	pool     database.Pool
	tenants  *repository.TenantRepository
	sessions *repository.SessionRepository
	cipher   Cipher
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewTenantRegistry(pool database.Pool, cipher Cipher, clock clockwork.Clock, logger *slog.Logger) *TenantRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TenantRegistry{
		pool:     pool,
		tenants:  repository.NewTenantRepository(pool),
		sessions: repository.NewSessionRepository(pool),
		cipher:   cipher,
		clock:    clock,
		logger:   logger,
	}
}

// UpsertOnInstall records a successful authorization. Calling it again for the
// same shop replaces profile and credential and reactivates an uninstalled tenant.
func (r *TenantRegistry) UpsertOnInstall(ctx context.Context, shopDomain string, profile domain.Profile, credential []byte) (*domain.Tenant, error) {
	shop := domain.NormalizeShopDomain(shopDomain)
	if len(credential) == 0 {
		return nil, domain.ErrBadRequest.WithError(errors.New("credential is required"))
	}

	sealed, err := r.cipher.Encrypt(credential)
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}

	tenant := &domain.Tenant{
		ShopDomain:  shop,
		Profile:     profile,
		IsActive:    true,
		InstalledAt: r.clock.Now(),
		Credential:  sealed,
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	if err := r.tenants.Upsert(ctx, tenant); err != nil {
		return nil, err
	}

	r.logger.Info("tenant installed", "tenant", shop, "tenant_id", tenant.ID)
	return tenant, nil
}

// MarkUninstalled deactivates the tenant but keeps the row.
func (r *TenantRegistry) MarkUninstalled(ctx context.Context, shopDomain string) error {
	if err := r.tenants.MarkUninstalled(ctx, shopDomain, r.clock.Now()); err != nil {
		return err
	}
	r.logger.Info("tenant uninstalled", "tenant", shopDomain)
	return nil
}

// MarkRedacted deletes the tenant row and all of its sessions in one
// transaction. Redacting an unknown tenant is a no-op.
func (r *TenantRegistry) MarkRedacted(ctx context.Context, shopDomain string) error {
	var removedSessions int64
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		n, err := r.sessions.WithTx(tx).DeleteByTenant(ctx, shopDomain)
		if err != nil {
			return err
		}
		removedSessions = n

		err = r.tenants.WithTx(tx).Delete(ctx, shopDomain)
		if errors.Is(err, domain.ErrTenantNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("redact tenant: %w", err)
	}

	r.logger.Info("tenant redacted", "tenant", shopDomain, "sessions_removed", removedSessions)
	return nil
}

func (r *TenantRegistry) Get(ctx context.Context, shopDomain string) (*domain.Tenant, error) {
	return r.tenants.GetByKey(ctx, shopDomain)
}

// ListActive returns the shop domains of installed tenants.
func (r *TenantRegistry) ListActive(ctx context.Context) ([]string, error) {
	return r.tenants.ListActiveDomains(ctx)
}

// GetActiveCredential returns the plaintext credential. Inactive tenants,
// tenants without a credential, and undecryptable blobs all yield
// domain.ErrCredentialUnavailable.
func (r *TenantRegistry) GetActiveCredential(ctx context.Context, shopDomain string) ([]byte, error) {
	tenant, err := r.tenants.GetByKey(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive || !tenant.HasCredential() {
		return nil, domain.ErrCredentialUnavailable
	}

	plaintext, err := r.cipher.Decrypt(tenant.Credential)
	if err != nil {
		r.logger.Warn("credential unreadable", "tenant", shopDomain, "error", err)
		return nil, domain.ErrCredentialUnavailable.WithError(err)
	}
	return plaintext, nil
}

func (r *TenantRegistry) MarkNeedsReauth(ctx context.Context, shopDomain string) error {
	return r.tenants.UpdateSettings(ctx, shopDomain, map[string]interface{}{
		domain.SettingNeedsReauth: true,
	})
}

// SaveSession stores platform session data sealed under the vault key.
func (r *TenantRegistry) SaveSession(ctx context.Context, id, shopDomain string, data []byte, expiresAt *time.Time) error {
	sealed, err := r.cipher.Encrypt(data)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}
	return r.sessions.Save(ctx, &domain.Session{
		ID:         id,
		ShopDomain: shopDomain,
		Data:       sealed,
		ExpiresAt:  expiresAt,
	})
}

func (r *TenantRegistry) LoadSession(ctx context.Context, id string) ([]byte, error) {
	s, err := r.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.cipher.Decrypt(s.Data)
}
