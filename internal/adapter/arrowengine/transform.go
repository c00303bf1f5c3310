package arrowengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// pipeline applies the stages of one transform.
type pipeline struct {
	ctx  context.Context
	mem  memory.Allocator
	args []*table
}

type stage func(*table) (*table, error)

func (p pipeline) run(t *table, tr *domain.Transform) (*table, error) {
	var stages []stage
	if tr.RowNumber != nil {
		stages = append(stages, func(t *table) (*table, error) { return p.rowNumber(t, tr.RowNumber) })
	}
	for _, id := range tr.ValueIdentifiers {
		stages = append(stages, func(t *table) (*table, error) { return p.valueIdentifier(t, id) })
	}
	for _, b := range tr.Binning {
		stages = append(stages, func(t *table) (*table, error) { return p.binning(t, b) })
	}
	if len(tr.Filters) > 0 {
		stages = append(stages, func(t *table) (*table, error) { return p.filter(t, tr.Filters) })
	}
	if tr.GroupBy != nil {
		stages = append(stages, func(t *table) (*table, error) { return p.groupBy(t, tr.GroupBy) })
	}
	if tr.OrderBy != nil {
		stages = append(stages, func(t *table) (*table, error) { return p.orderBy(t, tr.OrderBy) })
	}
	if tr.Projection != nil {
		stages = append(stages, func(t *table) (*table, error) { return p.project(t, tr.Projection) })
	}

	for _, s := range stages {
		if err := p.ctx.Err(); err != nil {
			return nil, err
		}
		next, err := s(t)
		if err != nil {
			return nil, err
		}
		t = next
	}
	return t, nil
}

func (p pipeline) arg(id int) (*table, error) {
	if id < 0 || id >= len(p.args) {
		return nil, fmt.Errorf("%w: table %d of %d", ErrMissingArgument, id, len(p.args))
	}
	return p.args[id], nil
}

// statsBounds resolves the min and max columns of a one-row stats table.
func (p pipeline) statsBounds(id int, minName, maxName string) (arrow.Array, arrow.Array, error) {
	stats, err := p.arg(id)
	if err != nil {
		return nil, nil, err
	}
	if stats.rows != 1 {
		return nil, nil, fmt.Errorf("%w: stats table has %d rows, expected 1", ErrInvalidTransform, stats.rows)
	}
	minCol, _, err := stats.column(minName)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving binning minimum: %w", err)
	}
	maxCol, _, err := stats.column(maxName)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving binning maximum: %w", err)
	}
	return minCol, maxCol, nil
}

// take gathers rows by index. Negative indices produce nulls.
func (p pipeline) take(t *table, indices []int) (*table, error) {
	out := &table{fields: t.fields, cols: make([]arrow.Array, len(t.cols)), rows: len(indices)}
	for c, col := range t.cols {
		taken, err := p.takeColumn(col, indices)
		if err != nil {
			return nil, fmt.Errorf("taking rows of %q: %w", t.fields[c].Name, err)
		}
		out.cols[c] = taken
	}
	return out, nil
}

func (p pipeline) takeColumn(col arrow.Array, indices []int) (arrow.Array, error) {
	b := array.NewInt64Builder(p.mem)
	defer b.Release()
	b.Reserve(len(indices))
	for _, i := range indices {
		if i < 0 {
			b.AppendNull()
			continue
		}
		b.Append(int64(i))
	}
	idx := b.NewArray()
	defer idx.Release()
	return compute.TakeArray(compute.WithAllocator(p.ctx, p.mem), col, idx)
}

func (p pipeline) rowNumber(t *table, rn *domain.RowNumberTransform) (*table, error) {
	values := make([]uint64, t.rows)
	for i := range values {
		values[i] = uint64(i + 1)
	}
	field := arrow.Field{Name: rn.OutputAlias, Type: arrow.PrimitiveTypes.Uint64}
	return t.withColumn(field, newUint64Array(p.mem, values))
}

// valueIdentifier assigns the dense rank of every value in ascending order.
// Nulls rank after all values.
func (p pipeline) valueIdentifier(t *table, v domain.ValueIdentifierTransform) (*table, error) {
	col, _, err := t.column(v.FieldName)
	if err != nil {
		return nil, err
	}
	order := identity(t.rows)
	sort.SliceStable(order, func(a, b int) bool {
		return compareNullable(col, order[a], order[b]) < 0
	})
	ids := make([]uint64, t.rows)
	var rank uint64
	for k, row := range order {
		if k == 0 || compareNullable(col, order[k-1], row) != 0 {
			rank++
		}
		ids[row] = rank
	}
	field := arrow.Field{Name: v.OutputAlias, Type: arrow.PrimitiveTypes.Uint64}
	return t.withColumn(field, newUint64Array(p.mem, ids))
}

// binning computes the fractional bin (value - min) / width of every row.
func (p pipeline) binning(t *table, bt domain.BinningTransform) (*table, error) {
	col, field, err := t.column(bt.FieldName)
	if err != nil {
		return nil, err
	}
	minCol, maxCol, err := p.statsBounds(bt.StatsTableID, bt.StatsMinimumFieldName, bt.StatsMaximumFieldName)
	if err != nil {
		return nil, err
	}
	scale, err := newBinScale(field.Type, minCol, maxCol, bt.BinCount)
	if err != nil {
		return nil, fmt.Errorf("binning %q: %w", bt.FieldName, err)
	}

	b := array.NewFloat64Builder(p.mem)
	defer b.Release()
	b.Reserve(t.rows)
	for row := 0; row < t.rows; row++ {
		if f, ok := scale.fraction(col, row); ok {
			b.Append(f)
		} else {
			b.AppendNull()
		}
	}
	out := arrow.Field{Name: bt.OutputAlias, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
	return t.withColumn(out, b.NewArray())
}

type rowPredicate func(row int) bool

// filter keeps the rows that satisfy every filter.
func (p pipeline) filter(t *table, filters []domain.FilterTransform) (*table, error) {
	predicates := make([]rowPredicate, 0, len(filters))
	for _, f := range filters {
		pred, err := p.predicate(t, f)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, pred)
	}

	keep := make([]int, 0, t.rows)
next:
	for row := 0; row < t.rows; row++ {
		for _, pred := range predicates {
			if !pred(row) {
				continue next
			}
		}
		keep = append(keep, row)
	}
	return p.take(t, keep)
}

func (p pipeline) predicate(t *table, f domain.FilterTransform) (rowPredicate, error) {
	col, _, err := t.column(f.FieldName)
	if err != nil {
		return nil, err
	}

	var accept func(int) bool
	switch f.Operator {
	case domain.FilterEqual:
		accept = func(c int) bool { return c == 0 }
	case domain.FilterLessThan:
		accept = func(c int) bool { return c < 0 }
	case domain.FilterLessEqual:
		accept = func(c int) bool { return c <= 0 }
	case domain.FilterGreaterThan:
		accept = func(c int) bool { return c > 0 }
	case domain.FilterGreaterEqual:
		accept = func(c int) bool { return c >= 0 }
	case domain.FilterSemiJoinField:
		return p.semiJoin(col, f)
	default:
		return nil, fmt.Errorf("%w: unknown filter operator %d", ErrInvalidTransform, f.Operator)
	}
	if f.LiteralDouble == nil && f.LiteralUint64 == nil {
		return nil, fmt.Errorf("%w: filter on %q has no literal", ErrInvalidTransform, f.FieldName)
	}
	return func(row int) bool {
		return literalMatches(col, row, accept, f.LiteralDouble, f.LiteralUint64)
	}, nil
}

func (p pipeline) semiJoin(col arrow.Array, f domain.FilterTransform) (rowPredicate, error) {
	if f.SemiJoin == nil {
		return nil, fmt.Errorf("%w: semi-join filter on %q has no join field", ErrInvalidTransform, f.FieldName)
	}
	other, err := p.arg(f.SemiJoin.TableID)
	if err != nil {
		return nil, err
	}
	otherCol, _, err := other.column(f.SemiJoin.FieldName)
	if err != nil {
		return nil, fmt.Errorf("resolving semi-join field: %w", err)
	}
	members := make(map[string]struct{}, other.rows)
	for row := 0; row < other.rows; row++ {
		if !otherCol.IsNull(row) {
			members[cellKey(otherCol, row)] = struct{}{}
		}
	}
	return func(row int) bool {
		if col.IsNull(row) {
			return false
		}
		_, ok := members[cellKey(col, row)]
		return ok
	}, nil
}

func (p pipeline) orderBy(t *table, ob *domain.OrderByTransform) (*table, error) {
	cols := make([]arrow.Array, len(ob.Constraints))
	for i, c := range ob.Constraints {
		col, _, err := t.column(c.FieldName)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	order := identity(t.rows)
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		for k, c := range ob.Constraints {
			col := cols[k]
			ni, nj := col.IsNull(i), col.IsNull(j)
			if ni || nj {
				if ni && nj {
					continue
				}
				if c.NullsFirst {
					return ni
				}
				return nj
			}
			r := compareCells(col, i, j)
			if r == 0 {
				continue
			}
			if c.Ascending {
				return r < 0
			}
			return r > 0
		}
		return false
	})
	if ob.Limit > 0 && len(order) > ob.Limit {
		order = order[:ob.Limit]
	}
	return p.take(t, order)
}

func (p pipeline) project(t *table, pr *domain.ProjectionTransform) (*table, error) {
	out := &table{rows: t.rows}
	seen := make(map[string]struct{}, len(pr.Fields))
	for _, name := range pr.Fields {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateField, name)
		}
		seen[name] = struct{}{}
		i, err := t.index(name)
		if err != nil {
			return nil, err
		}
		out.fields = append(out.fields, t.fields[i])
		out.cols = append(out.cols, t.cols[i])
	}
	return out, nil
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
