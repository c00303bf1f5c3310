package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyByDistinctCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		distinctCount int64
		notNullCount  int64
		want          CardinalityClass
	}{
		{"all unique", 1000, 1000, CardinalityUnique},
		{"single value", 1, 1, CardinalityUnique},
		{"near unique (95%)", 950, 1000, CardinalityNearUnique},
		{"near unique threshold (90%)", 900, 1000, CardinalityNearUnique},
		{"high cardinality (50%)", 500, 1000, CardinalityHighCardinality},
		{"enum-like (3 distinct)", 3, 100, CardinalityEnumLike},
		{"enum-like (20 distinct)", 20, 1000, CardinalityEnumLike},
		{"low cardinality (50 distinct)", 50, 1000, CardinalityLowCardinality},
		{"low cardinality (200 distinct)", 200, 1000, CardinalityLowCardinality},
		{"no values", 0, 0, CardinalityEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyByDistinctCount(tt.distinctCount, tt.notNullCount)
			assert.Equal(t, tt.want, got)
		})
	}
}
