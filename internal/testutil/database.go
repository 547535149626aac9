package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/device-log-analysis-backend/internal/testutil/containers"
)

// TestDB is a migrated throwaway database for integration tests.
type TestDB struct {
	t    *testing.T
	pool *pgxpool.Pool

	ConnectionString string
}

// NewTestDB starts a PostgreSQL container, applies the repository
// migrations, and returns a connected pool. The container and pool are
// torn down with the test.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx := context.Background()
	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	require.NoError(t, pg.Migrate(migrationsDir(t)))

	pool, err := pgxpool.New(ctx, pg.ConnectionString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))

	return &TestDB{t: t, pool: pool, ConnectionString: pg.ConnectionString}
}

// Pool returns the connected pgx pool.
func (tdb *TestDB) Pool() *pgxpool.Pool {
	return tdb.pool
}

// Truncate clears the given tables between test cases.
func (tdb *TestDB) Truncate(tables ...string) {
	tdb.t.Helper()
	if len(tables) == 0 {
		tables = []string{
			"deletion_log", "audit_events", "analysis_results", "analyses",
			"log_files", "parser_permissions", "sessions", "principals",
		}
	}
	for _, table := range tables {
		_, err := tdb.pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(tdb.t, err)
	}
}

// RowCount counts the rows currently in a table.
func (tdb *TestDB) RowCount(table string) int {
	tdb.t.Helper()
	var count int
	err := tdb.pool.QueryRow(context.Background(),
		fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	require.NoError(tdb.t, err)
	return count
}

// migrationsDir locates migrations/ relative to this source file, so
// integration tests work from any package directory.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, self, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(self), "..", "..", "migrations")
}
