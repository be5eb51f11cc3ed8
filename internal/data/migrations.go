package data

import (
	"context"
	"database/sql"

	"github.com/target/mmk-scan-api/internal/migrate"
)

// RunMigrations brings the scan_jobs schema up to date.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// PendingMigrations lists migration versions that RunMigrations would apply.
func PendingMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return migrate.Pending(ctx, db)
}
