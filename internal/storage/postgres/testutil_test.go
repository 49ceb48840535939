package postgres

import (
	"context"
	"io/fs"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schemaDir holds the ledger migrations, relative to this package.
const schemaDir = "../migrations/postgres"

// setupTestDB starts a PostgreSQL container with the ledger schema applied.
// The returned func stops the container.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("ledger"),
		postgres.WithUsername("dex"),
		postgres.WithPassword("dex"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	applySchema(t, ctx, pool)

	return pool, func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}
}

// applySchema runs the migration files directly. The migrations package imports this
// one, so the embedded copy is out of reach here.
func applySchema(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	fsys := os.DirFS(schemaDir)
	names, err := fs.Glob(fsys, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names, "no migrations under %s", schemaDir)
	sort.Strings(names)

	for _, name := range names {
		sql, err := fs.ReadFile(fsys, name)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, "apply %s", name)
	}
}
