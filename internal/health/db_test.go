package health

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
)

func TestDBChecker_UnreachableDatabase(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://wanderlog@127.0.0.1:1/wanderlog?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	if err := NewDBChecker(db).HealthCheck(context.Background()); err == nil {
		t.Error("expected an error for an unreachable database")
	}
}
