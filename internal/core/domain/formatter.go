package domain

import (
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// TableFormatter renders the values of a local result table as display strings.
type TableFormatter struct {
	record arrow.Record
}

func NewTableFormatter(record arrow.Record) *TableFormatter {
	return &TableFormatter{record: record}
}

// Value formats the cell at (row, col). It returns false for nulls and out-of-range cells.
func (f *TableFormatter) Value(row, col int) (string, bool) {
	if f == nil || f.record == nil {
		return "", false
	}
	if col < 0 || col >= int(f.record.NumCols()) || row < 0 || row >= int(f.record.NumRows()) {
		return "", false
	}
	return FormatValue(f.record.Column(col), row)
}

// FormatValue formats a single array element. It returns false for nulls.
func FormatValue(arr arrow.Array, i int) (string, bool) {
	if arr.IsNull(i) {
		return "", false
	}
	switch a := arr.(type) {
	case *array.Float32:
		return strconv.FormatFloat(float64(a.Value(i)), 'f', -1, 32), true
	case *array.Float64:
		return strconv.FormatFloat(a.Value(i), 'f', -1, 64), true
	case *array.String:
		return a.Value(i), true
	case *array.LargeString:
		return a.Value(i), true
	default:
		return arr.ValueStr(i), true
	}
}
