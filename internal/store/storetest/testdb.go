// Package storetest spins up an ephemeral Postgres container for
// integration tests, grounded on the teacher's test/database/client.go.
package storetest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/journalctl/core/internal/store"
)

// NewTestStore creates a *store.Store against an external CI_DATABASE_URL
// when set, or a fresh testcontainers Postgres otherwise. Migrations run as
// part of store.NewStore. The container and pools are cleaned up via
// t.Cleanup.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	cfg := store.Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}

	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		t.Log("storetest: using external PostgreSQL from CI_DATABASE_URL")
		cfg.ConnectionString = ciURL
	} else {
		t.Log("storetest: using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("journalctl_test"),
			postgres.WithUsername("journalctl"),
			postgres.WithPassword("journalctl"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("storetest: failed to terminate container: %v", err)
			}
		})

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
		cfg.ConnectionString = connStr
	}

	s, err := store.NewStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}
