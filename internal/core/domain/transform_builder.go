package domain

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

const (
	// BinCount is the number of equal-width bins of every ordinal histogram.
	BinCount = 16
	// FrequentValueLimit caps the frequent-value table of string and list columns.
	FrequentValueLimit = 32

	// TableCountFieldName holds count(*) in the table summary.
	TableCountFieldName = "_count"

	rowNumberFieldPrefix = "_rownum"
)

// Field names of column summary results.
const (
	BinFieldName           = "bin"
	CountFieldName         = "count"
	BinWidthFieldName      = "binWidth"
	BinLowerBoundFieldName = "binLowerBound"
	BinUpperBoundFieldName = "binUpperBound"
	KeyFieldName           = "key"
)

// ResultLayout lists the field names a result table must expose, by position.
type ResultLayout []string

var (
	// BinnedValuesLayout is the shape of an ordinal column summary.
	BinnedValuesLayout = ResultLayout{BinFieldName, CountFieldName, BinWidthFieldName, BinLowerBoundFieldName, BinUpperBoundFieldName}
	// FrequentValuesLayout is the shape of a string or list column summary.
	FrequentValuesLayout = ResultLayout{KeyFieldName, CountFieldName}
)

// Index returns the position of a field in the layout, or -1.
func (l ResultLayout) Index(name string) int {
	for i, n := range l {
		if n == name {
			return i
		}
	}
	return -1
}

// Check verifies that the schema carries the layout fields at their positions.
func (l ResultLayout) Check(schema *arrow.Schema) error {
	if schema.NumFields() < len(l) {
		return fmt.Errorf("%w: expected at least %d fields, got %d", ErrResultLayout, len(l), schema.NumFields())
	}
	for i, name := range l {
		if got := schema.Field(i).Name; got != name {
			return fmt.Errorf("%w: field %d is %q, expected %q", ErrResultLayout, i, got, name)
		}
	}
	return nil
}

// ColumnSummaryTransform is a column summary request plus the layout of its result.
type ColumnSummaryTransform struct {
	Transform *Transform
	Layout    ResultLayout
}

// BuildTableSummaryTransform aggregates the whole table into a single row and
// records the aggregate field names on copies of the column groups.
func BuildTableSummaryTransform(columns []ColumnGroup) (*Transform, []ColumnGroup) {
	aggregates := []GroupByAggregate{{
		OutputAlias: TableCountFieldName,
		Function:    AggregateCountStar,
	}}
	updated := make([]ColumnGroup, len(columns))
	copy(updated, columns)

	for i, column := range columns {
		switch c := column.(type) {
		case OrdinalColumn:
			stats := &StatsFields{
				CountFieldName:        fmt.Sprintf("_%d_count", i),
				MinAggregateFieldName: fmt.Sprintf("_%d_min", i),
				MaxAggregateFieldName: fmt.Sprintf("_%d_max", i),
			}
			aggregates = append(aggregates,
				GroupByAggregate{FieldName: c.Input.Name, OutputAlias: stats.CountFieldName, Function: AggregateCount},
				GroupByAggregate{FieldName: c.Input.Name, OutputAlias: stats.MinAggregateFieldName, Function: AggregateMin},
				GroupByAggregate{FieldName: c.Input.Name, OutputAlias: stats.MaxAggregateFieldName, Function: AggregateMax},
			)
			c.Stats = stats
			updated[i] = c
		case StringColumn:
			stats := distinctStats(i)
			aggregates = append(aggregates, distinctAggregates(c.Input.Name, stats)...)
			c.Stats = stats
			updated[i] = c
		case ListColumn:
			stats := distinctStats(i)
			aggregates = append(aggregates, distinctAggregates(c.Input.Name, stats)...)
			c.Stats = stats
			updated[i] = c
		case RowNumberColumn, SkippedColumn:
		}
	}

	return &Transform{GroupBy: &GroupByTransform{Aggregates: aggregates}}, updated
}

func distinctStats(i int) *StatsFields {
	return &StatsFields{
		CountFieldName:         fmt.Sprintf("_%d_count", i),
		DistinctCountFieldName: fmt.Sprintf("_%d_countd", i),
	}
}

func distinctAggregates(field string, stats *StatsFields) []GroupByAggregate {
	return []GroupByAggregate{
		{FieldName: field, OutputAlias: stats.CountFieldName, Function: AggregateCount},
		{FieldName: field, OutputAlias: stats.DistinctCountFieldName, Function: AggregateCount, Distinct: true},
	}
}

// BuildColumnSummaryTransform builds the histogram or frequent-value request of a column.
// Binning bounds are read from the table summary passed as argument 0.
func BuildColumnSummaryTransform(column ColumnGroup) (ColumnSummaryTransform, error) {
	switch c := column.(type) {
	case OrdinalColumn:
		if c.Stats == nil || c.Stats.MinAggregateFieldName == "" || c.Stats.MaxAggregateFieldName == "" {
			return ColumnSummaryTransform{}, fmt.Errorf("%w: column %q", ErrMissingStatsFields, c.Input.Name)
		}
		return ColumnSummaryTransform{
			Transform: ordinalSummaryTransform(c),
			Layout:    BinnedValuesLayout,
		}, nil
	case StringColumn:
		if c.Stats == nil {
			return ColumnSummaryTransform{}, fmt.Errorf("%w: column %q", ErrMissingStatsFields, c.Input.Name)
		}
		return ColumnSummaryTransform{Transform: frequentValuesTransform(c.Input.Name), Layout: FrequentValuesLayout}, nil
	case ListColumn:
		if c.Stats == nil {
			return ColumnSummaryTransform{}, fmt.Errorf("%w: column %q", ErrMissingStatsFields, c.Input.Name)
		}
		return ColumnSummaryTransform{Transform: frequentValuesTransform(c.Input.Name), Layout: FrequentValuesLayout}, nil
	case RowNumberColumn, SkippedColumn:
		return ColumnSummaryTransform{}, fmt.Errorf("%w: %s column %q", ErrColumnNotSummarizable, c.Kind(), c.FieldName())
	default:
		return ColumnSummaryTransform{}, fmt.Errorf("%w: unknown column group %T", ErrColumnNotSummarizable, column)
	}
}

func ordinalSummaryTransform(c OrdinalColumn) *Transform {
	binCount := c.BinCount
	if binCount <= 0 {
		binCount = BinCount
	}
	return &Transform{
		GroupBy: &GroupByTransform{
			Keys: []GroupByKey{{
				FieldName:   c.Input.Name,
				OutputAlias: BinFieldName,
				Binning: &GroupByKeyBinning{
					StatsTableID:             0,
					StatsMinimumFieldName:    c.Stats.MinAggregateFieldName,
					StatsMaximumFieldName:    c.Stats.MaxAggregateFieldName,
					BinCount:                 binCount,
					OutputBinWidthAlias:      BinWidthFieldName,
					OutputBinLowerBoundAlias: BinLowerBoundFieldName,
					OutputBinUpperBoundAlias: BinUpperBoundFieldName,
				},
			}},
			Aggregates: []GroupByAggregate{{
				FieldName:   c.Input.Name,
				OutputAlias: CountFieldName,
				Function:    AggregateCountStar,
			}},
		},
		OrderBy: &OrderByTransform{
			Constraints: []OrderByConstraint{{FieldName: BinFieldName, Ascending: true}},
		},
	}
}

func frequentValuesTransform(field string) *Transform {
	return &Transform{
		GroupBy: &GroupByTransform{
			Keys: []GroupByKey{{FieldName: field, OutputAlias: KeyFieldName}},
			Aggregates: []GroupByAggregate{{
				FieldName:   field,
				OutputAlias: CountFieldName,
				Function:    AggregateCountStar,
			}},
		},
		OrderBy: &OrderByTransform{
			Constraints: []OrderByConstraint{{FieldName: CountFieldName, Ascending: false}},
			Limit:       FrequentValueLimit,
		},
	}
}

// BuildFilteredColumnSummaryTransform restricts a column summary to the rows
// whose row number occurs in the filter table passed as argument 1.
func BuildFilteredColumnSummaryTransform(column ColumnGroup, rowNumberFieldName string) (ColumnSummaryTransform, error) {
	if rowNumberFieldName == "" {
		return ColumnSummaryTransform{}, fmt.Errorf("%w: row number column missing", ErrColumnNotFilterable)
	}
	summary, err := BuildColumnSummaryTransform(column)
	if err != nil {
		return ColumnSummaryTransform{}, err
	}
	summary.Transform.Filters = []FilterTransform{{
		FieldName: rowNumberFieldName,
		Operator:  FilterSemiJoinField,
		SemiJoin:  &SemiJoinField{TableID: 1, FieldName: rowNumberFieldName},
	}}
	return summary, nil
}

// BuildOrderByTransform sorts a data frame without aggregating it.
func BuildOrderByTransform(constraints []OrderByConstraint, limit int) *Transform {
	cs := make([]OrderByConstraint, len(constraints))
	copy(cs, constraints)
	return &Transform{OrderBy: &OrderByTransform{Constraints: cs, Limit: limit}}
}

// BuildFilterTransform applies filters and keeps only the row number column.
// It returns nil when there is nothing to filter.
func BuildFilterTransform(filters []FilterTransform, rowNumberFieldName string) *Transform {
	if len(filters) == 0 {
		return nil
	}
	fs := make([]FilterTransform, len(filters))
	copy(fs, filters)
	return &Transform{
		Filters:    fs,
		Projection: &ProjectionTransform{Fields: []string{rowNumberFieldName}},
	}
}

// SystemColumnTransform is the precomputation request plus the extended column groups.
type SystemColumnTransform struct {
	Transform          *Transform
	Columns            []ColumnGroup
	RowNumberFieldName string
}

// BuildSystemColumnTransform prepends a row number column, bins every ordinal
// column and assigns value identifiers to string and list columns. The table
// summary is expected as argument 0. Generated names never collide with the
// schema or with each other.
func BuildSystemColumnTransform(schema *arrow.Schema, columns []ColumnGroup) (SystemColumnTransform, error) {
	taken := make(map[string]struct{}, schema.NumFields())
	for _, f := range schema.Fields() {
		taken[f.Name] = struct{}{}
	}

	rowNumberFieldName := UniqueFieldName(rowNumberFieldPrefix, taken)
	extended := make([]ColumnGroup, 0, len(columns)+1)
	extended = append(extended, RowNumberColumn{RowNumberFieldName: rowNumberFieldName})
	extended = append(extended, columns...)

	var (
		binning     []BinningTransform
		identifiers []ValueIdentifierTransform
	)
	for i := 1; i < len(extended); i++ {
		switch c := extended[i].(type) {
		case OrdinalColumn:
			if c.Stats == nil || c.Stats.MinAggregateFieldName == "" || c.Stats.MaxAggregateFieldName == "" {
				return SystemColumnTransform{}, fmt.Errorf("%w: column %q", ErrMissingStatsFields, c.Input.Name)
			}
			binCount := c.BinCount
			if binCount <= 0 {
				binCount = BinCount
			}
			c.BinCount = binCount
			c.BinFieldName = UniqueFieldName(fmt.Sprintf("_%d_bin", i), taken)
			binning = append(binning, BinningTransform{
				FieldName:             c.Input.Name,
				StatsTableID:          0,
				StatsMinimumFieldName: c.Stats.MinAggregateFieldName,
				StatsMaximumFieldName: c.Stats.MaxAggregateFieldName,
				BinCount:              binCount,
				OutputAlias:           c.BinFieldName,
			})
			extended[i] = c
		case StringColumn:
			c.ValueIDFieldName = UniqueFieldName(fmt.Sprintf("_%d_id", i), taken)
			identifiers = append(identifiers, ValueIdentifierTransform{FieldName: c.Input.Name, OutputAlias: c.ValueIDFieldName})
			extended[i] = c
		case ListColumn:
			c.ValueIDFieldName = UniqueFieldName(fmt.Sprintf("_%d_id", i), taken)
			identifiers = append(identifiers, ValueIdentifierTransform{FieldName: c.Input.Name, OutputAlias: c.ValueIDFieldName})
			extended[i] = c
		case RowNumberColumn, SkippedColumn:
		}
	}

	return SystemColumnTransform{
		Transform: &Transform{
			RowNumber:        &RowNumberTransform{OutputAlias: rowNumberFieldName},
			ValueIdentifiers: identifiers,
			Binning:          binning,
			OrderBy: &OrderByTransform{
				Constraints: []OrderByConstraint{{FieldName: rowNumberFieldName, Ascending: true}},
			},
		},
		Columns:            extended,
		RowNumberFieldName: rowNumberFieldName,
	}, nil
}

// UniqueFieldName prepends underscores to prefix until it is not taken,
// then marks the result as taken.
func UniqueFieldName(prefix string, taken map[string]struct{}) string {
	name := prefix
	for {
		if _, exists := taken[name]; !exists {
			taken[name] = struct{}{}
			return name
		}
		name = "_" + name
	}
}
