package domain

// AggregationFunction is an aggregate the pipeline asks the compute engine for.
type AggregationFunction int

const (
	AggregateCountStar AggregationFunction = iota
	AggregateCount
	AggregateMin
	AggregateMax
)

func (f AggregationFunction) String() string {
	switch f {
	case AggregateCountStar:
		return "count_star"
	case AggregateCount:
		return "count"
	case AggregateMin:
		return "min"
	case AggregateMax:
		return "max"
	default:
		return "unknown"
	}
}

// FilterOperator compares a field against a literal or another table.
type FilterOperator int

const (
	FilterEqual FilterOperator = iota
	FilterLessThan
	FilterLessEqual
	FilterGreaterThan
	FilterGreaterEqual
	FilterSemiJoinField
)

// Transform is a declarative request to derive a new data frame.
// Any subset of the stages may be set. Engines apply them in the order
// row number, value identifiers, binning, filters, group by, order by, projection.
type Transform struct {
	RowNumber        *RowNumberTransform
	ValueIdentifiers []ValueIdentifierTransform
	Binning          []BinningTransform
	Filters          []FilterTransform
	GroupBy          *GroupByTransform
	OrderBy          *OrderByTransform
	Projection       *ProjectionTransform
}

type RowNumberTransform struct {
	OutputAlias string
}

// ValueIdentifierTransform assigns a dense rank to every distinct value of a field.
type ValueIdentifierTransform struct {
	FieldName   string
	OutputAlias string
}

// BinningTransform computes the fractional bin of a field from min/max in a stats table.
type BinningTransform struct {
	FieldName             string
	StatsTableID          int
	StatsMinimumFieldName string
	StatsMaximumFieldName string
	BinCount              int
	OutputAlias           string
}

type FilterTransform struct {
	FieldName string
	Operator  FilterOperator
	// Exactly one operand is set.
	LiteralDouble *float64
	LiteralUint64 *uint64
	SemiJoin      *SemiJoinField
}

// SemiJoinField keeps rows whose field value occurs in a field of an argument table.
type SemiJoinField struct {
	TableID   int
	FieldName string
}

type GroupByTransform struct {
	Keys       []GroupByKey
	Aggregates []GroupByAggregate
}

type GroupByKey struct {
	FieldName   string
	OutputAlias string
	Binning     *GroupByKeyBinning
}

// GroupByKeyBinning buckets a key into equal-width bins from min/max in a stats table.
type GroupByKeyBinning struct {
	StatsTableID             int
	StatsMinimumFieldName    string
	StatsMaximumFieldName    string
	BinCount                 int
	OutputBinWidthAlias      string
	OutputBinLowerBoundAlias string
	OutputBinUpperBoundAlias string
}

type GroupByAggregate struct {
	FieldName   string
	OutputAlias string
	Function    AggregationFunction
	Distinct    bool
}

type OrderByTransform struct {
	Constraints []OrderByConstraint
	// Limit caps the number of rows, 0 means unlimited.
	Limit int
}

type OrderByConstraint struct {
	FieldName  string `json:"field"`
	Ascending  bool   `json:"ascending"`
	NullsFirst bool   `json:"nulls_first"`
}

type ProjectionTransform struct {
	Fields []string
}
