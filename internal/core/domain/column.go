package domain

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// ColumnKind names the semantic kind of a result column.
type ColumnKind int

const (
	ColumnKindRowNumber ColumnKind = iota
	ColumnKindSkipped
	ColumnKindOrdinal
	ColumnKindString
	ColumnKindList
)

func (k ColumnKind) String() string {
	switch k {
	case ColumnKindRowNumber:
		return "row_number"
	case ColumnKindSkipped:
		return "skipped"
	case ColumnKindOrdinal:
		return "ordinal"
	case ColumnKindString:
		return "string"
	case ColumnKindList:
		return "list"
	default:
		return fmt.Sprintf("ColumnKind(%d)", int(k))
	}
}

// MarshalText lets column kinds appear as names in JSON reports.
func (k ColumnKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// InputField describes the result-table field a column group was classified from.
type InputField struct {
	Name     string
	Type     arrow.DataType
	Nullable bool
}

// StatsFields names the table summary fields that hold a column's aggregates.
// Optional names are empty when the column kind does not compute them.
type StatsFields struct {
	CountFieldName         string
	DistinctCountFieldName string
	MinAggregateFieldName  string
	MaxAggregateFieldName  string
}

// ColumnGroup is the classified metadata of one result column.
// Implementations are value types; builders return modified copies.
type ColumnGroup interface {
	Kind() ColumnKind
	FieldName() string
	isColumnGroup()
}

// RowNumberColumn is the synthetic row-number column added by system-column precomputation.
type RowNumberColumn struct {
	RowNumberFieldName string
}

// SkippedColumn is a column whose type cannot be summarized.
type SkippedColumn struct {
	Input InputField
}

// OrdinalColumn is a numeric, boolean or temporal column summarized as a histogram.
type OrdinalColumn struct {
	Input        InputField
	Stats        *StatsFields
	BinCount     int
	BinFieldName string
}

// StringColumn is a UTF-8 column summarized by its most frequent values.
type StringColumn struct {
	Input            InputField
	Stats            *StatsFields
	ValueIDFieldName string
}

// ListColumn is a list column summarized by its most frequent values.
type ListColumn struct {
	Input            InputField
	Stats            *StatsFields
	ValueIDFieldName string
}

func (RowNumberColumn) Kind() ColumnKind { return ColumnKindRowNumber }
func (SkippedColumn) Kind() ColumnKind   { return ColumnKindSkipped }
func (OrdinalColumn) Kind() ColumnKind   { return ColumnKindOrdinal }
func (StringColumn) Kind() ColumnKind    { return ColumnKindString }
func (ListColumn) Kind() ColumnKind      { return ColumnKindList }

func (c RowNumberColumn) FieldName() string { return c.RowNumberFieldName }
func (c SkippedColumn) FieldName() string   { return c.Input.Name }
func (c OrdinalColumn) FieldName() string   { return c.Input.Name }
func (c StringColumn) FieldName() string    { return c.Input.Name }
func (c ListColumn) FieldName() string      { return c.Input.Name }

func (RowNumberColumn) isColumnGroup() {}
func (SkippedColumn) isColumnGroup()   {}
func (OrdinalColumn) isColumnGroup()   {}
func (StringColumn) isColumnGroup()    {}
func (ListColumn) isColumnGroup()      {}

// ColumnStats returns the stats fields of a column, or nil for kinds without aggregates.
func ColumnStats(c ColumnGroup) *StatsFields {
	switch col := c.(type) {
	case OrdinalColumn:
		return col.Stats
	case StringColumn:
		return col.Stats
	case ListColumn:
		return col.Stats
	case RowNumberColumn, SkippedColumn:
		return nil
	default:
		return nil
	}
}

// IsSummarizable reports whether a column summary can be computed for the column kind.
func IsSummarizable(c ColumnGroup) bool {
	switch c.(type) {
	case OrdinalColumn, StringColumn, ListColumn:
		return true
	default:
		return false
	}
}

// ClassifyColumns maps every schema field to a column group, preserving order.
func ClassifyColumns(schema *arrow.Schema) []ColumnGroup {
	fields := schema.Fields()
	columns := make([]ColumnGroup, 0, len(fields))
	for _, f := range fields {
		input := InputField{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
		switch classifyType(f.Type) {
		case ColumnKindOrdinal:
			columns = append(columns, OrdinalColumn{Input: input, BinCount: BinCount})
		case ColumnKindString:
			columns = append(columns, StringColumn{Input: input})
		case ColumnKindList:
			columns = append(columns, ListColumn{Input: input})
		default:
			columns = append(columns, SkippedColumn{Input: input})
		}
	}
	return columns
}

func classifyType(t arrow.DataType) ColumnKind {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64,
		arrow.BOOL,
		arrow.DECIMAL128, arrow.DECIMAL256,
		arrow.DATE32, arrow.DATE64,
		arrow.TIME32, arrow.TIME64,
		arrow.TIMESTAMP, arrow.DURATION:
		return ColumnKindOrdinal
	case arrow.STRING, arrow.LARGE_STRING:
		return ColumnKindString
	case arrow.LIST, arrow.LARGE_LIST, arrow.FIXED_SIZE_LIST:
		return ColumnKindList
	default:
		return ColumnKindSkipped
	}
}
