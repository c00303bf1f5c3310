package domain

import "sort"

// HistogramFilter is a brushed range over the bin field of an ordinal column.
type HistogramFilter struct {
	Selection [2]float64
	Filters   []FilterTransform
}

// CrossFilters holds the active histogram brushes of a table, keyed by column index.
type CrossFilters struct {
	histograms map[int]HistogramFilter
}

func NewCrossFilters() *CrossFilters {
	return &CrossFilters{histograms: make(map[int]HistogramFilter)}
}

func (c *CrossFilters) Len() int {
	return len(c.histograms)
}

func (c *CrossFilters) Clone() *CrossFilters {
	out := NewCrossFilters()
	for k, v := range c.histograms {
		out.histograms[k] = v
	}
	return out
}

// Equal compares the selections of both filter sets.
func (c *CrossFilters) Equal(other *CrossFilters) bool {
	if len(c.histograms) != len(other.histograms) {
		return false
	}
	for k, a := range c.histograms {
		b, ok := other.histograms[k]
		if !ok || a.Selection != b.Selection {
			return false
		}
	}
	return true
}

// ContainsHistogramFilter reports whether the brush is already applied to the column.
// A nil brush matches a column without filter.
func (c *CrossFilters) ContainsHistogramFilter(columnID int, brush *[2]float64) bool {
	existing, ok := c.histograms[columnID]
	if brush == nil {
		return !ok
	}
	return ok && existing.Selection == *brush
}

// AddHistogramFilter brushes the bin range of an ordinal column. A nil brush removes the filter.
// Columns without a bin field are recorded without filters.
func (c *CrossFilters) AddHistogramFilter(columnID int, column OrdinalColumn, brush *[2]float64) {
	if brush == nil {
		delete(c.histograms, columnID)
		return
	}
	var filters []FilterTransform
	if column.BinFieldName != "" {
		lo, hi := brush[0], brush[1]
		filters = []FilterTransform{
			{FieldName: column.BinFieldName, Operator: FilterGreaterEqual, LiteralDouble: &lo},
			{FieldName: column.BinFieldName, Operator: FilterLessEqual, LiteralDouble: &hi},
		}
	}
	c.histograms[columnID] = HistogramFilter{Selection: *brush, Filters: filters}
}

// FilterTransforms returns the filters of all brushes, ordered by column index.
func (c *CrossFilters) FilterTransforms() []FilterTransform {
	ids := make([]int, 0, len(c.histograms))
	for id := range c.histograms {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var out []FilterTransform
	for _, id := range ids {
		out = append(out, c.histograms[id].Filters...)
	}
	return out
}
