package domain

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// OrdinalColumnAnalysis is the histogram summary of an ordinal column.
type OrdinalColumnAnalysis struct {
	TotalCount     int64     `json:"total_count"`
	CountNotNull   int64     `json:"count_not_null"`
	CountNull      int64     `json:"count_null"`
	MinValue       string    `json:"min_value"`
	MaxValue       string    `json:"max_value"`
	BinCount       int       `json:"bin_count"`
	BinValueCounts []int64   `json:"bin_value_counts"`
	BinPercentages []float64 `json:"bin_percentages"`
	BinLowerBounds []string  `json:"bin_lower_bounds"`
}

// FrequentValue is one row of a frequent-value table.
type FrequentValue struct {
	Label      string  `json:"label"`
	Null       bool    `json:"null,omitempty"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// StringColumnAnalysis summarizes a string column by its most frequent values.
type StringColumnAnalysis struct {
	TotalCount     int64            `json:"total_count"`
	CountNotNull   int64            `json:"count_not_null"`
	CountNull      int64            `json:"count_null"`
	CountDistinct  int64            `json:"count_distinct"`
	IsUnique       bool             `json:"is_unique"`
	Cardinality    CardinalityClass `json:"cardinality"`
	FrequentValues []FrequentValue  `json:"frequent_values"`
}

// ListColumnAnalysis summarizes a list column by its most frequent values.
// Null keys are flagged per value.
type ListColumnAnalysis struct {
	TotalCount     int64            `json:"total_count"`
	CountNotNull   int64            `json:"count_not_null"`
	CountNull      int64            `json:"count_null"`
	CountDistinct  int64            `json:"count_distinct"`
	IsUnique       bool             `json:"is_unique"`
	Cardinality    CardinalityClass `json:"cardinality"`
	FrequentValues []FrequentValue  `json:"frequent_values"`
}

// Percentage is count/total, or 0 when total is 0.
func Percentage(count, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

// AnalyzeOrdinalColumn reads a binned-values table into an ordinal analysis.
func AnalyzeOrdinalColumn(summary *SummaryTable, column OrdinalColumn, binned arrow.Record) (OrdinalColumnAnalysis, error) {
	if column.Stats == nil {
		return OrdinalColumnAnalysis{}, fmt.Errorf("%w: column %q", ErrMissingStatsFields, column.Input.Name)
	}
	if err := BinnedValuesLayout.Check(binned.Schema()); err != nil {
		return OrdinalColumnAnalysis{}, err
	}

	total := summary.TotalCount()
	notNull := summary.Int64(column.Stats.CountFieldName)
	minValue, _ := summary.Formatted(column.Stats.MinAggregateFieldName)
	maxValue, _ := summary.Formatted(column.Stats.MaxAggregateFieldName)

	rows := int(binned.NumRows())
	counts := binned.Column(BinnedValuesLayout.Index(CountFieldName))
	lowerBounds := binned.Column(BinnedValuesLayout.Index(BinLowerBoundFieldName))

	analysis := OrdinalColumnAnalysis{
		TotalCount:     total,
		CountNotNull:   notNull,
		CountNull:      total - notNull,
		MinValue:       minValue,
		MaxValue:       maxValue,
		BinCount:       column.BinCount,
		BinValueCounts: make([]int64, rows),
		BinPercentages: make([]float64, rows),
		BinLowerBounds: make([]string, rows),
	}
	for i := 0; i < rows; i++ {
		count, _ := Int64At(counts, i)
		analysis.BinValueCounts[i] = count
		analysis.BinPercentages[i] = Percentage(count, total)
		analysis.BinLowerBounds[i], _ = FormatValue(lowerBounds, i)
	}
	return analysis, nil
}

// AnalyzeStringColumn reads a frequent-values table into a string analysis.
func AnalyzeStringColumn(summary *SummaryTable, column StringColumn, frequent arrow.Record) (StringColumnAnalysis, error) {
	if column.Stats == nil {
		return StringColumnAnalysis{}, fmt.Errorf("%w: column %q", ErrMissingStatsFields, column.Input.Name)
	}
	values, err := frequentValues(summary, frequent)
	if err != nil {
		return StringColumnAnalysis{}, err
	}
	total := summary.TotalCount()
	notNull := summary.Int64(column.Stats.CountFieldName)
	distinct := summary.Int64(column.Stats.DistinctCountFieldName)
	return StringColumnAnalysis{
		TotalCount:     total,
		CountNotNull:   notNull,
		CountNull:      total - notNull,
		CountDistinct:  distinct,
		IsUnique:       notNull == distinct,
		Cardinality:    ClassifyByDistinctCount(distinct, notNull),
		FrequentValues: values,
	}, nil
}

// AnalyzeListColumn reads a frequent-values table into a list analysis.
func AnalyzeListColumn(summary *SummaryTable, column ListColumn, frequent arrow.Record) (ListColumnAnalysis, error) {
	if column.Stats == nil {
		return ListColumnAnalysis{}, fmt.Errorf("%w: column %q", ErrMissingStatsFields, column.Input.Name)
	}
	values, err := frequentValues(summary, frequent)
	if err != nil {
		return ListColumnAnalysis{}, err
	}
	total := summary.TotalCount()
	notNull := summary.Int64(column.Stats.CountFieldName)
	distinct := summary.Int64(column.Stats.DistinctCountFieldName)
	return ListColumnAnalysis{
		TotalCount:     total,
		CountNotNull:   notNull,
		CountNull:      total - notNull,
		CountDistinct:  distinct,
		IsUnique:       notNull == distinct,
		Cardinality:    ClassifyByDistinctCount(distinct, notNull),
		FrequentValues: values,
	}, nil
}

func frequentValues(summary *SummaryTable, frequent arrow.Record) ([]FrequentValue, error) {
	if err := FrequentValuesLayout.Check(frequent.Schema()); err != nil {
		return nil, err
	}
	total := summary.TotalCount()
	keys := frequent.Column(FrequentValuesLayout.Index(KeyFieldName))
	counts := frequent.Column(FrequentValuesLayout.Index(CountFieldName))

	rows := int(frequent.NumRows())
	values := make([]FrequentValue, rows)
	for i := 0; i < rows; i++ {
		label, ok := FormatValue(keys, i)
		count, _ := Int64At(counts, i)
		values[i] = FrequentValue{
			Label:      label,
			Null:       !ok,
			Count:      count,
			Percentage: Percentage(count, total),
		}
	}
	return values, nil
}
