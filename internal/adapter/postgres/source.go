package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source runs notebook queries against PostgreSQL and returns their
// result tables as arrow records.
type Source struct {
	pool         *pgxpool.Pool
	mem          memory.Allocator
	readOnly     bool
	maxRows      int
	queryTimeout time.Duration
}

func NewSource(pool *pgxpool.Pool, readOnly bool, maxRows int, queryTimeout time.Duration) *Source {
	return &Source{
		pool:         pool,
		mem:          memory.DefaultAllocator,
		readOnly:     readOnly,
		maxRows:      maxRows,
		queryTimeout: queryTimeout,
	}
}

func (s *Source) Query(ctx context.Context, sql string) (arrow.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	// EXPLAIN statements cannot be wrapped in a subquery
	wrappedSQL := sql
	if !isExplain(sql) {
		wrappedSQL = fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", sql, s.maxRows)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		AccessMode: s.accessMode(),
	})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET LOCAL makes PostgreSQL cancel the statement server-side and
	// scopes the setting to this transaction.
	timeoutMS := s.queryTimeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%d'", timeoutMS)); err != nil {
		return nil, fmt.Errorf("setting statement timeout: %w", err)
	}

	rows, err := tx.Query(ctx, wrappedSQL)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	rec, err := rowsToRecord(s.mem, rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		rec.Release()
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return rec, nil
}

func isExplain(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "EXPLAIN")
}

func (s *Source) accessMode() pgx.TxAccessMode {
	if s.readOnly {
		return pgx.ReadOnly
	}
	return pgx.ReadWrite
}
