package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/vault"
)

var tenantRowColumns = []string{
	"id", "shop_domain", "profile", "is_active", "installed_at", "uninstalled_at",
	"credential", "settings", "features", "created_at", "updated_at",
}

func newTestRegistry(t *testing.T) (*TenantRegistry, pgxmock.PgxPoolIface, *vault.Vault, clockwork.FakeClock) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	v, err := vault.NewFromString("registry test key")
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewTenantRegistry(mock, v, clock, logger), mock, v, clock
}

func TestTenantRegistry_UpsertOnInstall(t *testing.T) {
	t.Run("encrypts credential before storing", func(t *testing.T) {
		reg, mock, v, clock := newTestRegistry(t)

		var stored []byte
		mock.ExpectQuery(`INSERT INTO tenants`).
			WithArgs(
				pgxmock.AnyArg(),
				"a.myshopify.com",
				pgxmock.AnyArg(),
				clock.Now(),
				captureBytes(&stored),
				pgxmock.AnyArg(),
				pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(uuid.New(), clock.Now(), clock.Now()))

		tenant, err := reg.UpsertOnInstall(context.Background(), " A.myshopify.com ",
			domain.Profile{Name: "Shop A"}, []byte("shpat_first"))
		require.NoError(t, err)

		assert.Equal(t, "a.myshopify.com", tenant.ShopDomain)
		assert.True(t, tenant.IsActive)
		assert.NotContains(t, string(stored), "shpat_first")

		plain, err := v.Decrypt(stored)
		require.NoError(t, err)
		assert.Equal(t, []byte("shpat_first"), plain)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects empty credential", func(t *testing.T) {
		reg, mock, _, _ := newTestRegistry(t)

		_, err := reg.UpsertOnInstall(context.Background(), "a.myshopify.com", domain.Profile{}, nil)
		assert.ErrorIs(t, err, domain.ErrBadRequest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects malformed tenant key", func(t *testing.T) {
		reg, mock, _, _ := newTestRegistry(t)

		_, err := reg.UpsertOnInstall(context.Background(), "not a domain", domain.Profile{}, []byte("tok"))
		assert.ErrorIs(t, err, domain.ErrInvalidTenantKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTenantRegistry_GetActiveCredential(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		active     bool
		credential func(v *vault.Vault) []byte
		want       []byte
		wantErrs   []error
	}{
		{
			name:   "active tenant",
			active: true,
			credential: func(v *vault.Vault) []byte {
				b, _ := v.Encrypt([]byte("shpat_live"))
				return b
			},
			want: []byte("shpat_live"),
		},
		{
			name:       "inactive tenant",
			active:     false,
			credential: func(v *vault.Vault) []byte { return nil },
			wantErrs:   []error{domain.ErrCredentialUnavailable},
		},
		{
			name:       "undecryptable credential",
			active:     true,
			credential: func(v *vault.Vault) []byte { return []byte("shophook.v1:bm90LWEtcmVhbC1ibG9iLWF0LWFsbA==") },
			wantErrs:   []error{domain.ErrCredentialUnavailable, domain.ErrDecryption},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, mock, v, _ := newTestRegistry(t)

			mock.ExpectQuery(`FROM tenants`).
				WithArgs("a.myshopify.com").
				WillReturnRows(pgxmock.NewRows(tenantRowColumns).AddRow(
					uuid.New(), "a.myshopify.com", []byte(`{}`), tt.active, now, nil,
					tt.credential(v), []byte(`{}`), []string{}, now, now,
				))

			got, err := reg.GetActiveCredential(context.Background(), "a.myshopify.com")
			if len(tt.wantErrs) > 0 {
				assert.Nil(t, got)
				for _, want := range tt.wantErrs {
					assert.ErrorIs(t, err, want)
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTenantRegistry_MarkRedacted(t *testing.T) {
	t.Run("removes sessions and tenant in one transaction", func(t *testing.T) {
		reg, mock, _, _ := newTestRegistry(t)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM sessions`).
			WithArgs("a.myshopify.com").
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		mock.ExpectExec(`DELETE FROM tenants`).
			WithArgs("a.myshopify.com").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCommit()

		require.NoError(t, reg.MarkRedacted(context.Background(), "a.myshopify.com"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown tenant is a no-op", func(t *testing.T) {
		reg, mock, _, _ := newTestRegistry(t)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM sessions`).
			WithArgs("gone.myshopify.com").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectExec(`DELETE FROM tenants`).
			WithArgs("gone.myshopify.com").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCommit()

		require.NoError(t, reg.MarkRedacted(context.Background(), "gone.myshopify.com"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTenantRegistry_MarkNeedsReauth(t *testing.T) {
	reg, mock, _, _ := newTestRegistry(t)

	mock.ExpectExec(`UPDATE tenants`).
		WithArgs("a.myshopify.com", []byte(`{"needs_reauth":true}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, reg.MarkNeedsReauth(context.Background(), "a.myshopify.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// captureBytes is a pgxmock argument matcher that records the value it sees.
type bytesCapture struct{ dst *[]byte }

func captureBytes(dst *[]byte) bytesCapture { return bytesCapture{dst: dst} }

func (c bytesCapture) Match(v interface{}) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	*c.dst = append([]byte(nil), b...)
	return true
}

func TestTenantRegistry_ListActive(t *testing.T) {
	reg, mock, _, _ := newTestRegistry(t)

	mock.ExpectQuery(`SELECT shop_domain`).
		WillReturnRows(pgxmock.NewRows([]string{"shop_domain"}).AddRow("a.myshopify.com"))

	got, err := reg.ListActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.myshopify.com"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
