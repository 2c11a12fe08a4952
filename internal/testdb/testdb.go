// Package testdb starts a throwaway PostgreSQL container for integration
// tests and applies the embedded migrations to it.
package testdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
)

// Instance is a running database container with a migrated schema.
type Instance struct {
	DSN       string
	Pool      *pgxpool.Pool
	container testcontainers.Container
}

// Start launches postgres:16-alpine, connects a pool and migrates it up.
func Start(ctx context.Context) (*Instance, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "shophook_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/shophook_test?sslmode=disable", host, port.Port())

	pool, err := database.Connect(ctx, database.DefaultPoolConfig(dsn, 20), nil)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	if err := database.MigrateUp(pool); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &Instance{DSN: dsn, Pool: pool, container: container}, nil
}

// Truncate empties every application table between tests.
func (i *Instance) Truncate(ctx context.Context) error {
	_, err := i.Pool.Exec(ctx, `TRUNCATE delivery_records, jobs, sessions, tenants`)
	return err
}

// Close shuts the pool and terminates the container.
func (i *Instance) Close(ctx context.Context) {
	i.Pool.Close()
	_ = i.container.Terminate(ctx)
}
