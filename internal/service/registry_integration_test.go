//go:build integration

package service

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/testdb"
	"github.com/saturnino-fabrica-de-software/shophook/internal/vault"
)

var testDB *testdb.Instance

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}

	ctx := context.Background()
	inst, err := testdb.Start(ctx)
	if err != nil {
		slog.Error("start test database", "error", err)
		os.Exit(1)
	}
	testDB = inst

	code := m.Run()
	inst.Close(ctx)
	os.Exit(code)
}

func TestIntegration_InstallUninstallReinstall(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.Truncate(ctx))

	v, err := vault.NewFromString("integration key")
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	reg := NewTenantRegistry(testDB.Pool, v, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = reg.UpsertOnInstall(ctx, "a.myshopify.com", domain.Profile{Name: "A"}, []byte("shpat_one"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, reg.MarkUninstalled(ctx, "a.myshopify.com"))

	uninstalled, err := reg.Get(ctx, "a.myshopify.com")
	require.NoError(t, err)
	assert.False(t, uninstalled.IsActive)
	require.NotNil(t, uninstalled.UninstalledAt)

	_, err = reg.GetActiveCredential(ctx, "a.myshopify.com")
	assert.ErrorIs(t, err, domain.ErrCredentialUnavailable)

	clock.Advance(time.Hour)
	require.NoError(t, reg.MarkNeedsReauth(ctx, "a.myshopify.com"))
	_, err = reg.UpsertOnInstall(ctx, "a.myshopify.com", domain.Profile{Name: "A2"}, []byte("shpat_two"))
	require.NoError(t, err)

	reinstalled, err := reg.Get(ctx, "a.myshopify.com")
	require.NoError(t, err)
	assert.True(t, reinstalled.IsActive)
	assert.Nil(t, reinstalled.UninstalledAt)
	assert.Equal(t, "A2", reinstalled.Profile.Name)
	assert.False(t, reinstalled.GetSettings().NeedsReauth)
	assert.Equal(t, uninstalled.ID, reinstalled.ID)

	cred, err := reg.GetActiveCredential(ctx, "a.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, []byte("shpat_two"), cred)
}

func TestIntegration_RedactRemovesTenantAndSessions(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.Truncate(ctx))

	v, err := vault.NewFromString("integration key")
	require.NoError(t, err)
	reg := NewTenantRegistry(testDB.Pool, v, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = reg.UpsertOnInstall(ctx, "a.myshopify.com", domain.Profile{}, []byte("tok"))
	require.NoError(t, err)
	require.NoError(t, reg.SaveSession(ctx, "offline_a.myshopify.com", "a.myshopify.com", []byte(`{"scope":"read"}`), nil))

	data, err := reg.LoadSession(ctx, "offline_a.myshopify.com")
	require.NoError(t, err)
	assert.JSONEq(t, `{"scope":"read"}`, string(data))

	require.NoError(t, reg.MarkRedacted(ctx, "a.myshopify.com"))
	require.NoError(t, reg.MarkRedacted(ctx, "a.myshopify.com"))

	_, err = reg.Get(ctx, "a.myshopify.com")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
	_, err = reg.LoadSession(ctx, "offline_a.myshopify.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
