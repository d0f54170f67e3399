//go:build integration

// Package testdb provides a migrated PostgreSQL database for integration tests.
//
// When DATABASE_URL is set the tests run against that database. Otherwise a
// disposable postgres container is started through testcontainers; tests are
// skipped when Docker is not available.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16-alpine"

// New returns an open, migrated database and truncates all tables when the
// test finishes.
func New(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = startContainer(t)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("failed to ping database: %v", err)
	}

	applyMigrations(t, db)
	truncate(t, db)

	t.Cleanup(func() {
		truncate(t, db)
		db.Close()
	})
	return db
}

func startContainer(t *testing.T) string {
	t.Helper()

	if !dockerAvailable() {
		t.Skip("DATABASE_URL not set and Docker not available; skipping integration test")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("wanderlog"),
		postgres.WithUsername("wanderlog"),
		postgres.WithPassword("wanderlog"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return dsn
}

func dockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

// applyMigrations runs every *.up.sql file in lexical order. The migrations
// are idempotent, so re-applying them to a shared database is safe.
func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join(migrationsDir(), "*.up.sql"))
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}
	sort.Strings(files)

	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("failed to read migration %s: %v", f, err)
		}
		if _, err := db.Exec(string(body)); err != nil {
			t.Fatalf("failed to apply migration %s: %v", filepath.Base(f), err)
		}
	}
}

func truncate(t *testing.T, db *sql.DB) {
	t.Helper()
	tables := []string{"moments", "user_interests", "follows"}
	if _, err := db.Exec("TRUNCATE " + strings.Join(tables, ", ")); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
