package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

var tenantRowColumns = []string{
	"id", "shop_domain", "profile", "is_active", "installed_at", "uninstalled_at",
	"credential", "settings", "features", "created_at", "updated_at",
}

func TestTenantRepository_GetByKey(t *testing.T) {
	tenantID := uuid.New()
	now := time.Now()

	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxPoolIface)
		want      *domain.Tenant
		wantErr   error
	}{
		{
			name: "successful retrieval",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(tenantRowColumns).AddRow(
					tenantID,
					"a.myshopify.com",
					[]byte(`{"name":"Shop A","locale":"en"}`),
					true,
					now,
					nil,
					[]byte("sealed"),
					[]byte(`{"needs_reauth":false}`),
					[]string{"beta"},
					now,
					now,
				)
				mock.ExpectQuery(`FROM tenants`).
					WithArgs("a.myshopify.com").
					WillReturnRows(rows)
			},
			want: &domain.Tenant{
				ID:          tenantID,
				ShopDomain:  "a.myshopify.com",
				Profile:     domain.Profile{Name: "Shop A", Locale: "en"},
				IsActive:    true,
				InstalledAt: now,
				Credential:  []byte("sealed"),
				Settings:    map[string]interface{}{"needs_reauth": false},
				Features:    []string{"beta"},
				CreatedAt:   now,
				UpdatedAt:   now,
			},
		},
		{
			name: "tenant not found",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM tenants`).
					WithArgs("a.myshopify.com").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: domain.ErrTenantNotFound,
		},
		{
			name: "database error",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM tenants`).
					WithArgs("a.myshopify.com").
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: errors.New("get tenant by key"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.mockSetup(mock)

			repo := NewTenantRepository(mock)
			got, err := repo.GetByKey(context.Background(), "a.myshopify.com")

			if tt.wantErr != nil {
				require.Error(t, err)
				if errors.Is(tt.wantErr, domain.ErrTenantNotFound) {
					assert.ErrorIs(t, err, domain.ErrTenantNotFound)
				} else {
					assert.Contains(t, err.Error(), tt.wantErr.Error())
				}
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTenantRepository_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existingID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO tenants`).
		WithArgs(
			pgxmock.AnyArg(),
			"a.myshopify.com",
			[]byte(`{"name":"Shop A","address":{}}`),
			now,
			[]byte("sealed"),
			[]byte("{}"),
			[]string{},
		).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(existingID, now, now))

	tenant := &domain.Tenant{
		ShopDomain:  "a.myshopify.com",
		Profile:     domain.Profile{Name: "Shop A"},
		InstalledAt: now,
		Credential:  []byte("sealed"),
	}
	uninstalled := now.Add(-time.Hour)
	tenant.UninstalledAt = &uninstalled

	repo := NewTenantRepository(mock)
	require.NoError(t, repo.Upsert(context.Background(), tenant))

	assert.Equal(t, existingID, tenant.ID, "conflict keeps the stored id")
	assert.True(t, tenant.IsActive)
	assert.Nil(t, tenant.UninstalledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantRepository_MarkUninstalled(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"deactivates existing tenant", 1, nil},
		{"unknown tenant", 0, domain.ErrTenantNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectExec(`UPDATE tenants`).
				WithArgs("a.myshopify.com", now).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			err = NewTenantRepository(mock).MarkUninstalled(context.Background(), "a.myshopify.com", now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTenantRepository_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM tenants`).
		WithArgs("a.myshopify.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM tenants`).
		WithArgs("a.myshopify.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	repo := NewTenantRepository(mock)
	assert.NoError(t, repo.Delete(context.Background(), "a.myshopify.com"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "a.myshopify.com"), domain.ErrTenantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantRepository_ListActiveDomains(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE is_active = true`).
		WillReturnRows(pgxmock.NewRows([]string{"shop_domain"}).
			AddRow("a.myshopify.com").
			AddRow("b.myshopify.com"))
	mock.ExpectQuery(`WHERE is_active = true`).
		WillReturnError(errors.New("connection reset"))

	repo := NewTenantRepository(mock)
	got, err := repo.ListActiveDomains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.myshopify.com", "b.myshopify.com"}, got)

	_, err = repo.ListActiveDomains(context.Background())
	assert.ErrorContains(t, err, "list active tenants")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantRepository_UpdateSettings(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE tenants`).
		WithArgs("a.myshopify.com", []byte(`{"needs_reauth":true}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewTenantRepository(mock).UpdateSettings(context.Background(), "a.myshopify.com",
		map[string]interface{}{domain.SettingNeedsReauth: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_DeleteByTenant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM sessions`).
		WithArgs("a.myshopify.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := NewSessionRepository(mock).DeleteByTenant(context.Background(), "a.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.True(t, isUniqueViolation(errors.New("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)")))
	assert.False(t, isUniqueViolation(errors.New("connection reset")))
}
