package sqlgen

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// Querier is the narrow *pgxpool.Pool surface the executor needs, kept as
// an interface because the executor runs arbitrary, LLM-generated SELECT
// shapes rather than a fixed, known-column query.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Executor runs a validated SELECT against the relational store, bounding
// both row count and wall-clock time: a runaway generated query fails
// safely rather than hangs a request or floods the response.
type Executor struct {
	db      Querier
	rowCap  int
	timeCap time.Duration
}

// NewExecutor creates an Executor. rowCap and timeCap come from
// config.Config's SQLRowCap / SQLTimeCapMS.
func NewExecutor(db Querier, rowCap int, timeCap time.Duration) *Executor {
	return &Executor{db: db, rowCap: rowCap, timeCap: timeCap}
}

// Execute runs sql (already validated and tenant-scoped) and returns at
// most rowCap rows. A query returning more rows than the cap is truncated,
// not rejected: the row cap is a safety bound on response size, not a
// validation failure. A query still running past the time cap returns
// ErrSQLCapacity.
func (e *Executor) Execute(ctx context.Context, sql string, args ...any) (model.SQLResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeCap)
	defer cancel()

	rows, err := e.db.Query(ctx, sql, args...)
	if err != nil {
		if ctx.Err() != nil {
			return model.SQLResult{}, fmt.Errorf("sqlgen.Executor.Execute: %w: %v", ErrSQLCapacity, err)
		}
		return model.SQLResult{}, fmt.Errorf("sqlgen.Executor.Execute: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	result := model.SQLResult{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		if len(result.Rows) >= e.rowCap {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return model.SQLResult{}, fmt.Errorf("sqlgen.Executor.Execute: scan: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return model.SQLResult{}, fmt.Errorf("sqlgen.Executor.Execute: %w: %v", ErrSQLCapacity, err)
		}
		return model.SQLResult{}, fmt.Errorf("sqlgen.Executor.Execute: %w", err)
	}

	return result, nil
}
