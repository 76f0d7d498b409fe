// Package dbtest opens a migrated, empty MariaDB database for repository
// tests. Tests using it are skipped unless QCAT_TEST_DATABASE_DSN points at a
// disposable database, e.g.
//
//	QCAT_TEST_DATABASE_DSN='qcat:qcat@tcp(localhost:3306)/qcat_test' go test -p 1 ./...
//
// Every Open truncates all tables, so packages must not share the database
// concurrently (hence -p 1).
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/qcat/internal/database"
)

// EnvDSN names the environment variable holding the test database DSN.
const EnvDSN = "QCAT_TEST_DATABASE_DSN"

// tables lists every table, children first.
var tables = []string{
	"read_logs",
	"information_updates",
	"member_updates",
	"content_updates",
	"status_updates",
	"notification_log_subscribers",
	"notification_logs",
	"mail_preferences",
	"locks",
	"questionnaire_links",
	"questionnaire_flags",
	"questionnaire_memberships",
	"questionnaires",
	"user_scopes",
	"user_groups",
	"users",
}

// Open connects to the test database, applies the migrations and empties
// every table. The pool is closed when the test ends.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set, skipping MariaDB test", EnvDSN)
	}

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err, "parsing %s", EnvDSN)
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "test database unreachable")

	_, err = database.RunMigrations(db, migrationsDir(t))
	require.NoError(t, err)

	Reset(t, db)
	return db
}

// Reset truncates every table.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()

	// FOREIGN_KEY_CHECKS is per session, so pin one connection.
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `SET FOREIGN_KEY_CHECKS = 0`)
	require.NoError(t, err)
	for _, table := range tables {
		_, err := conn.ExecContext(ctx, `TRUNCATE TABLE `+table)
		require.NoError(t, err, "truncating %s", table)
	}
	_, err = conn.ExecContext(ctx, `SET FOREIGN_KEY_CHECKS = 1`)
	require.NoError(t, err)
}

// Exec runs a seeding statement and fails the test on error.
func Exec(t *testing.T, db *sql.DB, query string, args ...any) sql.Result {
	t.Helper()
	res, err := db.ExecContext(context.Background(), query, args...)
	require.NoError(t, err, "seeding: %s", query)
	return res
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine dbtest path")
	}
	// internal/database/dbtest -> project root
	dir := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "db", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}
