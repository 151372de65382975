package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/metacluster/internal/storage"
	"github.com/scrypster/metacluster/internal/storage/postgres"
	"github.com/scrypster/metacluster/internal/storage/storagetest"
)

// postgresTestDSN returns the DSN for the test database.
// If METACLUSTER_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("METACLUSTER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("METACLUSTER_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestTreeStore(t *testing.T) {
	dsn := postgresTestDSN(t)
	ctx := context.Background()

	storagetest.Run(t, func(t *testing.T) storage.TreeStore {
		s, err := postgres.NewTreeStore(ctx, dsn, nil)
		require.NoError(t, err)

		// Runs are shared across subtests; clear them so each starts empty.
		runs, err := s.ListRuns(ctx)
		require.NoError(t, err)
		for _, r := range runs {
			require.NoError(t, s.DeleteRun(ctx, r.ID))
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
