package domain

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// SummaryTable is the local one-row table summary with a field-name index.
type SummaryTable struct {
	Record             arrow.Record
	FieldIndex         map[string]int
	Formatter          *TableFormatter
	CountStarFieldName string
}

// NewSummaryTable wraps a table summary result. The record must have exactly one row.
func NewSummaryTable(record arrow.Record) (*SummaryTable, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: table summary is missing", ErrResultLayout)
	}
	if record.NumRows() != 1 {
		return nil, fmt.Errorf("%w: table summary has %d rows, expected 1", ErrResultLayout, record.NumRows())
	}
	return &SummaryTable{
		Record:             record,
		FieldIndex:         FieldIndex(record.Schema()),
		Formatter:          NewTableFormatter(record),
		CountStarFieldName: TableCountFieldName,
	}, nil
}

// FieldIndex maps field names to their positions.
func FieldIndex(schema *arrow.Schema) map[string]int {
	index := make(map[string]int, schema.NumFields())
	for i, f := range schema.Fields() {
		index[f.Name] = i
	}
	return index
}

// Int64 reads an integer aggregate, defaulting to 0 when it is absent or null.
func (s *SummaryTable) Int64(field string) int64 {
	if s == nil || field == "" {
		return 0
	}
	col, ok := s.FieldIndex[field]
	if !ok {
		return 0
	}
	v, _ := Int64At(s.Record.Column(col), 0)
	return v
}

// Formatted reads an aggregate as a display string.
func (s *SummaryTable) Formatted(field string) (string, bool) {
	if s == nil || field == "" {
		return "", false
	}
	col, ok := s.FieldIndex[field]
	if !ok {
		return "", false
	}
	return s.Formatter.Value(0, col)
}

// TotalCount is the count(*) of the summarized table.
func (s *SummaryTable) TotalCount() int64 {
	if s == nil {
		return 0
	}
	return s.Int64(s.CountStarFieldName)
}

// Int64At reads an integer cell of any integer array type. It returns false for
// nulls and for unsigned values that do not fit an int64.
func Int64At(arr arrow.Array, i int) (int64, bool) {
	if i < 0 || i >= arr.Len() || arr.IsNull(i) {
		return 0, false
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i), true
	case *array.Uint64:
		v := a.Value(i)
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Uint32:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Uint16:
		return int64(a.Value(i)), true
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Uint8:
		return int64(a.Value(i)), true
	default:
		return 0, false
	}
}
