package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

type TenantRepository struct {
	db database.DBTX
}

func NewTenantRepository(db database.DBTX) *TenantRepository {
	return &TenantRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *TenantRepository) WithTx(tx database.DBTX) *TenantRepository {
	return &TenantRepository{db: tx}
}

const tenantColumns = `id, shop_domain, profile, is_active, installed_at, uninstalled_at, credential, settings, features, created_at, updated_at`

func (r *TenantRepository) GetByKey(ctx context.Context, shopDomain string) (*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE shop_domain = $1
	`

	var (
		tenant   domain.Tenant
		profile  []byte
		settings []byte
	)
	err := r.db.QueryRow(ctx, query, shopDomain).Scan(
		&tenant.ID,
		&tenant.ShopDomain,
		&profile,
		&tenant.IsActive,
		&tenant.InstalledAt,
		&tenant.UninstalledAt,
		&tenant.Credential,
		&settings,
		&tenant.Features,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by key: %w", err)
	}

	if err := decodeJSON(profile, &tenant.Profile); err != nil {
		return nil, fmt.Errorf("decode tenant profile: %w", err)
	}
	if err := decodeJSON(settings, &tenant.Settings); err != nil {
		return nil, fmt.Errorf("decode tenant settings: %w", err)
	}

	return &tenant, nil
}

// Upsert inserts the tenant or, on an existing shop domain, reactivates it:
// profile and credential are replaced, uninstalled_at is cleared and the
// needs_reauth flag is dropped. Features and other settings survive.
func (r *TenantRepository) Upsert(ctx context.Context, tenant *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, shop_domain, profile, is_active, installed_at, uninstalled_at, credential, settings, features, created_at, updated_at)
		VALUES ($1, $2, $3, true, $4, NULL, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (shop_domain) DO UPDATE
		SET profile = EXCLUDED.profile,
			is_active = true,
			installed_at = EXCLUDED.installed_at,
			uninstalled_at = NULL,
			credential = EXCLUDED.credential,
			settings = tenants.settings - 'needs_reauth',
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.Features == nil {
		tenant.Features = []string{}
	}

	profile, err := encodeJSON(tenant.Profile)
	if err != nil {
		return fmt.Errorf("encode tenant profile: %w", err)
	}
	settings, err := encodeJSON(tenant.Settings)
	if err != nil {
		return fmt.Errorf("encode tenant settings: %w", err)
	}

	err = r.db.QueryRow(ctx, query,
		tenant.ID,
		tenant.ShopDomain,
		profile,
		tenant.InstalledAt,
		tenant.Credential,
		settings,
		tenant.Features,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.AppError{
				Code:       "TENANT_ALREADY_EXISTS",
				Message:    "Tenant with this id already exists",
				StatusCode: 409,
				Err:        err,
			}
		}
		return fmt.Errorf("upsert tenant: %w", err)
	}

	tenant.IsActive = true
	tenant.UninstalledAt = nil
	return nil
}

// MarkUninstalled deactivates the tenant and drops its credential. The row is kept.
func (r *TenantRepository) MarkUninstalled(ctx context.Context, shopDomain string, at time.Time) error {
	query := `
		UPDATE tenants
		SET is_active = false, uninstalled_at = $2, credential = NULL, updated_at = NOW()
		WHERE shop_domain = $1
	`

	result, err := r.db.Exec(ctx, query, shopDomain, at)
	if err != nil {
		return fmt.Errorf("mark tenant uninstalled: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}

	return nil
}

// ListActiveDomains returns the shop domain of every installed tenant.
func (r *TenantRepository) ListActiveDomains(ctx context.Context) ([]string, error) {
	query := `
		SELECT shop_domain
		FROM tenants
		WHERE is_active = true
		ORDER BY shop_domain
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var shop string
		if err := rows.Scan(&shop); err != nil {
			return nil, fmt.Errorf("scan active tenant: %w", err)
		}
		domains = append(domains, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}

	return domains, nil
}

func (r *TenantRepository) Delete(ctx context.Context, shopDomain string) error {
	query := `
		DELETE FROM tenants
		WHERE shop_domain = $1
	`

	result, err := r.db.Exec(ctx, query, shopDomain)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}

	return nil
}

// UpdateSettings merges patch into the stored settings map.
func (r *TenantRepository) UpdateSettings(ctx context.Context, shopDomain string, patch map[string]interface{}) error {
	query := `
		UPDATE tenants
		SET settings = settings || $2::jsonb, updated_at = NOW()
		WHERE shop_domain = $1
	`

	encoded, err := encodeJSON(patch)
	if err != nil {
		return fmt.Errorf("encode settings patch: %w", err)
	}

	result, err := r.db.Exec(ctx, query, shopDomain, encoded)
	if err != nil {
		return fmt.Errorf("update tenant settings: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}

	return nil
}
