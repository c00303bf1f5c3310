package postgres

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
)

type capturingSource struct {
	lastSQL string
}

func (c *capturingSource) Query(_ context.Context, sql string) (arrow.Record, error) {
	c.lastSQL = sql
	return nil, nil
}

func TestExplainOnlySource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		expectedSQL string
	}{
		{"plain SELECT gets EXPLAIN prefix", "SELECT 1", "EXPLAIN SELECT 1"},
		{"EXPLAIN is passed through", "EXPLAIN SELECT 1", "EXPLAIN SELECT 1"},
		{"EXPLAIN ANALYZE is passed through", "EXPLAIN ANALYZE SELECT 1", "EXPLAIN ANALYZE SELECT 1"},
		{"lowercase explain is passed through", "explain SELECT 1", "explain SELECT 1"},
		{"leading whitespace SELECT", "  SELECT 1", "EXPLAIN   SELECT 1"},
		{"leading whitespace EXPLAIN", "  EXPLAIN SELECT 1", "  EXPLAIN SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inner := &capturingSource{}
			s := NewExplainOnlySource(inner)

			_, _ = s.Query(context.Background(), tt.input)
			assert.Equal(t, tt.expectedSQL, inner.lastSQL)
		})
	}
}
