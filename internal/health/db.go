package health

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaProbe fails when the moments migration has not been applied.
const schemaProbe = `SELECT 1 FROM moments LIMIT 1`

// DBChecker implements health checking for the Postgres database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{
		db: db,
	}
}

// HealthCheck pings the database and verifies the schema is migrated.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	rows, err := d.db.QueryContext(ctx, schemaProbe)
	if err != nil {
		return fmt.Errorf("schema probe: %w", err)
	}
	return rows.Close()
}
