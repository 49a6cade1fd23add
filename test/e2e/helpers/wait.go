//go:build integration

package helpers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// WaitConfig configures service readiness checks.
type WaitConfig struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultWaitConfig returns default wait configuration.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Timeout:  60 * time.Second,
		Interval: 2 * time.Second,
	}
}

// WaitForPostgres waits for PostgreSQL to be ready.
func WaitForPostgres(ctx context.Context, dsn string, cfg WaitConfig) error {
	deadline := time.Now().Add(cfg.Timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		db, err := sql.Open("postgres", dsn)
		if err != nil {
			time.Sleep(cfg.Interval)
			continue
		}

		err = db.PingContext(ctx)
		closeErr := db.Close()
		if err == nil && closeErr == nil {
			return nil
		}

		time.Sleep(cfg.Interval)
	}

	return fmt.Errorf("postgres not ready within %v", cfg.Timeout)
}

// StartPostgres starts a PostgreSQL testcontainer and returns its DSN.
// When E2E_POSTGRES_DSN is set that database is used instead. The container
// is terminated when the test completes.
func StartPostgres(t *testing.T) string {
	t.Helper()

	if dsn := DefaultE2EConfig().PostgresDSN; dsn != "" {
		if err := WaitForPostgres(context.Background(), dsn, DefaultWaitConfig()); err != nil {
			t.Fatalf("external postgres: %v", err)
		}
		return dsn
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting postgres connection string: %v", err)
	}
	return dsn
}
