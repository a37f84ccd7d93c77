//go:build integration
// +build integration

package integration

import (
	"database/sql"
	"os"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// TestMigrations applies the bundled migrations, verifies the schema, and
// rolls everything back. The target database needs the pgvector extension
// available because the chunk table migration enables it.
func TestMigrations(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}

	dbURL := pgvectorTestDSN(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("Failed to create migration driver: %v", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		"file://../../migrations",
		"postgres", driver,
	)
	if err != nil {
		t.Fatalf("Failed to create migrator: %v", err)
	}

	// Start from a clean slate.
	if err := migrator.Drop(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("Failed to drop database: %v", err)
	}
	// Drop removes schema_migrations too, so the driver must be rebuilt.
	driver, err = postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("Failed to recreate migration driver: %v", err)
	}
	migrator, err = migrate.NewWithDatabaseInstance(
		"file://../../migrations",
		"postgres", driver,
	)
	if err != nil {
		t.Fatalf("Failed to recreate migrator: %v", err)
	}

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	for _, table := range []string{"memory_records", "memory_chunks"} {
		if !tableExists(t, db, table) {
			t.Fatalf("%s table was not created by migrations", table)
		}
	}

	// The chunk table's vector column must use the configured dimension.
	var columnType string
	err = db.QueryRow(
		`SELECT format_type(a.atttypid, a.atttypmod)
		 FROM pg_attribute a
		 JOIN pg_class c ON a.attrelid = c.oid
		 WHERE c.relname = 'memory_chunks' AND a.attname = 'embedding'`,
	).Scan(&columnType)
	if err != nil {
		t.Fatalf("Failed to inspect embedding column: %v", err)
	}
	if columnType != "vector(1536)" {
		t.Fatalf("embedding column has type %q, want vector(1536)", columnType)
	}

	if err := migrator.Down(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("Failed to roll back migrations: %v", err)
	}

	for _, table := range []string{"memory_records", "memory_chunks"} {
		if tableExists(t, db, table) {
			t.Fatalf("%s table was not dropped by down migration", table)
		}
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", name,
	).Scan(&exists)
	if err != nil {
		t.Fatalf("Failed to check if table %s exists: %v", name, err)
	}
	return exists
}
