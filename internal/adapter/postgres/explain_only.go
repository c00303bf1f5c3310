package postgres

import (
	"context"

	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/apache/arrow-go/v18/arrow"
)

// ExplainOnlySource wraps a ResultSource and forces all queries through EXPLAIN.
// The analyzed table is then the query plan, never the data.
type ExplainOnlySource struct {
	inner port.ResultSource
}

func NewExplainOnlySource(inner port.ResultSource) *ExplainOnlySource {
	return &ExplainOnlySource{inner: inner}
}

func (s *ExplainOnlySource) Query(ctx context.Context, sql string) (arrow.Record, error) {
	if !isExplain(sql) {
		sql = "EXPLAIN " + sql
	}
	return s.inner.Query(ctx, sql)
}
