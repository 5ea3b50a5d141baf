package sqlgen

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupExecutor is a DATABASE_URL-gated integration fixture: Executor wraps
// *pgxpool.Pool directly, so a hand-rolled pgx.Rows fake would only prove
// the fake correct, not the query path.
func setupExecutor(t *testing.T) (*Executor, func()) {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	poolCfg.MaxConns = 5
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS test_sqlgen_rows (n int)
	`); err != nil {
		pool.Close()
		t.Fatalf("create test table: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE test_sqlgen_rows`); err != nil {
		pool.Close()
		t.Fatalf("truncate test table: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO test_sqlgen_rows SELECT generate_series(1, 10)`); err != nil {
		pool.Close()
		t.Fatalf("seed test table: %v", err)
	}

	exec := NewExecutor(pool, 5, 3*time.Second)
	return exec, func() { pool.Close() }
}

func TestExecutor_RowCapTruncates(t *testing.T) {
	exec, cleanup := setupExecutor(t)
	defer cleanup()

	result, err := exec.Execute(context.Background(), `SELECT n FROM test_sqlgen_rows ORDER BY n`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(result.Rows) != 5 {
		t.Errorf("len(Rows) = %d, want 5 (row cap)", len(result.Rows))
	}
	if !result.Truncated {
		t.Error("Truncated = false, want true")
	}
}

func TestExecutor_TimeCapExceeded(t *testing.T) {
	exec, cleanup := setupExecutor(t)
	defer cleanup()
	exec.timeCap = 1 * time.Millisecond

	_, err := exec.Execute(context.Background(), `SELECT n, pg_sleep(1) FROM test_sqlgen_rows`)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}
