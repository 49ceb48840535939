package migrations

import (
	"context"
	"fmt"

	"dex-analytics/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded ledger schema in name order.
// Every file uses IF NOT EXISTS so reruns are no-ops.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, m := range files {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
