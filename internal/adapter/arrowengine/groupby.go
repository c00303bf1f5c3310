package arrowengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

type groupKey struct {
	key   domain.GroupByKey
	col   arrow.Array
	field arrow.Field
	scale *binScale
}

type groupAggregate struct {
	agg   domain.GroupByAggregate
	col   arrow.Array
	field arrow.Field
}

type group struct {
	rows []int
	bins []uint32
	// missing marks bins without rows. Their aggregates are null.
	missing bool
}

// groupBy aggregates rows by their keys. Without keys the whole table is one group,
// even when it is empty. Rows with a null binned key are dropped, and a single
// binned key yields every bin, with null aggregates for empty bins.
func (p pipeline) groupBy(t *table, g *domain.GroupByTransform) (*table, error) {
	keys, err := p.resolveKeys(t, g.Keys)
	if err != nil {
		return nil, err
	}
	aggs, err := resolveAggregates(t, g.Aggregates)
	if err != nil {
		return nil, err
	}
	if err := checkAliases(g); err != nil {
		return nil, err
	}

	groups := assignGroups(t.rows, keys)
	if len(keys) == 1 && keys[0].scale != nil {
		groups = fillMissingBins(groups, keys[0].scale.binCount)
	}

	out := &table{rows: len(groups)}
	add := func(f arrow.Field, col arrow.Array) {
		out.fields = append(out.fields, f)
		out.cols = append(out.cols, col)
	}

	for k, key := range keys {
		if key.scale != nil {
			b := array.NewUint32Builder(p.mem)
			for _, grp := range groups {
				b.Append(grp.bins[k])
			}
			add(arrow.Field{Name: key.key.OutputAlias, Type: arrow.PrimitiveTypes.Uint32}, b.NewArray())
			b.Release()
			continue
		}
		reps := make([]int, len(groups))
		for i, grp := range groups {
			reps[i] = grp.rows[0]
		}
		col, err := p.takeColumn(key.col, reps)
		if err != nil {
			return nil, fmt.Errorf("taking group keys of %q: %w", key.key.FieldName, err)
		}
		add(arrow.Field{Name: key.key.OutputAlias, Type: key.field.Type, Nullable: true}, col)
	}

	for _, a := range aggs {
		field, col, err := p.aggregate(a, groups)
		if err != nil {
			return nil, err
		}
		add(field, col)
	}

	for k, key := range keys {
		if key.scale == nil {
			continue
		}
		bin := key.key.Binning
		width := array.NewBuilder(p.mem, key.scale.widthType)
		lower := array.NewBuilder(p.mem, key.scale.boundType)
		upper := array.NewBuilder(p.mem, key.scale.boundType)
		for _, grp := range groups {
			key.scale.appendWidth(width)
			key.scale.appendBound(lower, grp.bins[k])
			key.scale.appendBound(upper, grp.bins[k]+1)
		}
		add(arrow.Field{Name: bin.OutputBinWidthAlias, Type: key.scale.widthType, Nullable: true}, width.NewArray())
		add(arrow.Field{Name: bin.OutputBinLowerBoundAlias, Type: key.scale.boundType, Nullable: true}, lower.NewArray())
		add(arrow.Field{Name: bin.OutputBinUpperBoundAlias, Type: key.scale.boundType, Nullable: true}, upper.NewArray())
		width.Release()
		lower.Release()
		upper.Release()
	}
	return out, nil
}

func (p pipeline) resolveKeys(t *table, keys []domain.GroupByKey) ([]groupKey, error) {
	out := make([]groupKey, len(keys))
	for i, k := range keys {
		col, field, err := t.column(k.FieldName)
		if err != nil {
			return nil, err
		}
		out[i] = groupKey{key: k, col: col, field: field}
		if k.Binning == nil {
			continue
		}
		minCol, maxCol, err := p.statsBounds(k.Binning.StatsTableID, k.Binning.StatsMinimumFieldName, k.Binning.StatsMaximumFieldName)
		if err != nil {
			return nil, err
		}
		scale, err := newBinScale(field.Type, minCol, maxCol, k.Binning.BinCount)
		if err != nil {
			return nil, fmt.Errorf("binning key %q: %w", k.FieldName, err)
		}
		out[i].scale = &scale
	}
	return out, nil
}

func resolveAggregates(t *table, aggs []domain.GroupByAggregate) ([]groupAggregate, error) {
	out := make([]groupAggregate, len(aggs))
	for i, a := range aggs {
		out[i] = groupAggregate{agg: a}
		switch a.Function {
		case domain.AggregateCountStar:
			continue
		case domain.AggregateMin, domain.AggregateMax:
			if a.Distinct {
				return nil, fmt.Errorf("%w: %s of %q cannot be distinct", ErrInvalidTransform, a.Function, a.FieldName)
			}
		case domain.AggregateCount:
		default:
			return nil, fmt.Errorf("%w: unknown aggregation function %d", ErrInvalidTransform, a.Function)
		}
		col, field, err := t.column(a.FieldName)
		if err != nil {
			return nil, err
		}
		out[i].col, out[i].field = col, field
	}
	return out, nil
}

func checkAliases(g *domain.GroupByTransform) error {
	seen := make(map[string]struct{})
	check := func(name string) error {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateField, name)
		}
		seen[name] = struct{}{}
		return nil
	}
	for _, k := range g.Keys {
		if err := check(k.OutputAlias); err != nil {
			return err
		}
	}
	for _, a := range g.Aggregates {
		if err := check(a.OutputAlias); err != nil {
			return err
		}
	}
	for _, k := range g.Keys {
		if k.Binning == nil {
			continue
		}
		for _, name := range []string{k.Binning.OutputBinWidthAlias, k.Binning.OutputBinLowerBoundAlias, k.Binning.OutputBinUpperBoundAlias} {
			if err := check(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignGroups hashes rows by their key values in order of first appearance.
func assignGroups(rows int, keys []groupKey) []*group {
	if len(keys) == 0 {
		all := identity(rows)
		return []*group{{rows: all}}
	}

	index := make(map[string]*group)
	var groups []*group
	var sb strings.Builder
	bins := make([]uint32, len(keys))
next:
	for row := 0; row < rows; row++ {
		sb.Reset()
		for k, key := range keys {
			if key.scale != nil {
				b, ok := key.scale.bin(key.col, row)
				if !ok {
					continue next
				}
				bins[k] = b
				sb.WriteString(strconv.FormatUint(uint64(b), 10))
				sb.WriteByte('|')
				continue
			}
			cell := cellKey(key.col, row)
			sb.WriteString(strconv.Itoa(len(cell)))
			sb.WriteByte(':')
			sb.WriteString(cell)
		}
		grp, ok := index[sb.String()]
		if !ok {
			grp = &group{bins: append([]uint32(nil), bins...)}
			index[sb.String()] = grp
			groups = append(groups, grp)
		}
		grp.rows = append(grp.rows, row)
	}
	return groups
}

func fillMissingBins(groups []*group, binCount int) []*group {
	present := make(map[uint32]struct{}, len(groups))
	for _, grp := range groups {
		present[grp.bins[0]] = struct{}{}
	}
	for b := 0; b < binCount; b++ {
		if _, ok := present[uint32(b)]; !ok {
			groups = append(groups, &group{bins: []uint32{uint32(b)}, missing: true})
		}
	}
	return groups
}

func (p pipeline) aggregate(a groupAggregate, groups []*group) (arrow.Field, arrow.Array, error) {
	switch a.agg.Function {
	case domain.AggregateCountStar, domain.AggregateCount:
		b := array.NewInt64Builder(p.mem)
		defer b.Release()
		for _, grp := range groups {
			if grp.missing {
				b.AppendNull()
				continue
			}
			b.Append(countRows(a, grp.rows))
		}
		return arrow.Field{Name: a.agg.OutputAlias, Type: arrow.PrimitiveTypes.Int64, Nullable: true}, b.NewArray(), nil
	default:
		want := -1
		if a.agg.Function == domain.AggregateMax {
			want = 1
		}
		reps := make([]int, len(groups))
		for i, grp := range groups {
			reps[i] = extremeRow(a.col, grp.rows, want)
		}
		col, err := p.takeColumn(a.col, reps)
		if err != nil {
			return arrow.Field{}, nil, fmt.Errorf("aggregating %s of %q: %w", a.agg.Function, a.agg.FieldName, err)
		}
		return arrow.Field{Name: a.agg.OutputAlias, Type: a.field.Type, Nullable: true}, col, nil
	}
}

func countRows(a groupAggregate, rows []int) int64 {
	if a.agg.Function == domain.AggregateCountStar {
		return int64(len(rows))
	}
	if !a.agg.Distinct {
		var n int64
		for _, row := range rows {
			if !a.col.IsNull(row) {
				n++
			}
		}
		return n
	}
	distinct := make(map[string]struct{})
	for _, row := range rows {
		if !a.col.IsNull(row) {
			distinct[cellKey(a.col, row)] = struct{}{}
		}
	}
	return int64(len(distinct))
}

// extremeRow returns the row holding the minimum (want -1) or maximum (want 1)
// non-null value, or -1 when all values are null.
func extremeRow(col arrow.Array, rows []int, want int) int {
	best := -1
	for _, row := range rows {
		if col.IsNull(row) {
			continue
		}
		if best < 0 || compareCells(col, row, best) == want {
			best = row
		}
	}
	return best
}
