package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

// Two fixed tenants used across the integration suite. tenant_id columns are
// UUIDs, so these must parse.
const (
	testTenantA = "11111111-1111-4111-8111-111111111111"
	testTenantB = "22222222-2222-4222-8222-222222222222"
)

// setupTestStore opens the test database, applies migrations and returns a
// store over a clean set of tables. Skipped in short mode.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t), 4)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		db.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	truncateAll(t, db)
	t.Cleanup(func() {
		truncateAll(t, db)
		db.Close()
	})

	return NewPostgresStore(db)
}

// truncateAll wipes the domain tables. TRUNCATE is not subject to row-level
// security, so this clears every tenant's leftovers.
func truncateAll(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE service_item_timing, preach_session, service_item, bulletin_issue`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

// getTestDatabaseURL returns the database URL for testing. It checks
// TEST_DATABASE_URL first, then falls back to the standard Postgres
// environment variables for CI.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenvDefault("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenvDefault("POSTGRES_HOST", "localhost")
	port := getenvDefault("POSTGRES_PORT", "5432")
	user := getenvDefault("POSTGRES_USER", "flock")
	pass := getenvDefault("POSTGRES_PASSWORD", "flock")
	dbname := getenvDefault("POSTGRES_DB", "flock_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenvDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
