package arrowengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var (
	ErrDataFrameDestroyed = errors.New("data frame was destroyed")
	ErrUnknownField       = errors.New("unknown field")
	ErrDuplicateField     = errors.New("duplicate output field")
	ErrMissingArgument    = errors.New("missing table argument")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrInvalidTransform   = errors.New("invalid transform")
)

// Stats counts data frame handles of an engine.
type Stats struct {
	Created        int
	Destroyed      int
	Live           int
	DoubleDestroys int
}

// Engine is an in-memory compute engine over Arrow records.
// Data frames are immutable; every transform materializes a new table.
type Engine struct {
	mem    memory.Allocator
	logger *slog.Logger

	mu             sync.Mutex
	nextID         uint64
	live           map[uint64]struct{}
	created        int
	destroyed      int
	doubleDestroys int
}

type Option func(*Engine)

func WithAllocator(mem memory.Allocator) Option {
	return func(e *Engine) { e.mem = mem }
}

func New(logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		mem:    memory.NewGoAllocator(),
		logger: logger,
		live:   make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ port.ComputeEngine = (*Engine)(nil)

// CreateDataFrame registers a local table with the engine.
func (e *Engine) CreateDataFrame(ctx context.Context, table arrow.Record) (port.DataFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, fmt.Errorf("%w: table is nil", ErrInvalidTransform)
	}
	return e.register(tableFromRecord(table)), nil
}

// Stats returns the current handle counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Created:        e.created,
		Destroyed:      e.destroyed,
		Live:           len(e.live),
		DoubleDestroys: e.doubleDestroys,
	}
}

func (e *Engine) register(t *table) *dataFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.created++
	e.live[e.nextID] = struct{}{}
	return &dataFrame{engine: e, id: e.nextID, table: t}
}

func (e *Engine) release(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.live, id)
	e.destroyed++
}

func (e *Engine) releaseTwice(id uint64) {
	e.mu.Lock()
	e.doubleDestroys++
	e.mu.Unlock()
	e.logger.Warn("data frame destroyed twice", slog.Uint64("frame_id", id))
}

type dataFrame struct {
	engine    *Engine
	id        uint64
	table     *table
	destroyed atomic.Bool
}

var _ port.DataFrame = (*dataFrame)(nil)

func (f *dataFrame) Transform(ctx context.Context, transform *domain.Transform, args ...port.DataFrame) (port.DataFrame, error) {
	if f.destroyed.Load() {
		return nil, fmt.Errorf("%w: frame %d", ErrDataFrameDestroyed, f.id)
	}
	if transform == nil {
		return nil, fmt.Errorf("%w: transform is nil", ErrInvalidTransform)
	}
	tables := make([]*table, len(args))
	for i, arg := range args {
		df, ok := arg.(*dataFrame)
		if !ok || df.engine != f.engine {
			return nil, fmt.Errorf("%w: argument %d belongs to another engine", ErrInvalidTransform, i)
		}
		if df.destroyed.Load() {
			return nil, fmt.Errorf("%w: argument %d", ErrDataFrameDestroyed, i)
		}
		tables[i] = df.table
	}

	p := pipeline{ctx: ctx, mem: f.engine.mem, args: tables}
	out, err := p.run(f.table, transform)
	if err != nil {
		return nil, err
	}
	return f.engine.register(out), nil
}

func (f *dataFrame) ReadTable(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.destroyed.Load() {
		return nil, fmt.Errorf("%w: frame %d", ErrDataFrameDestroyed, f.id)
	}
	return f.table.record(), nil
}

func (f *dataFrame) Destroy() {
	if !f.destroyed.CompareAndSwap(false, true) {
		f.engine.releaseTwice(f.id)
		return
	}
	f.engine.release(f.id)
}

// table is the materialized content of a data frame.
type table struct {
	fields []arrow.Field
	cols   []arrow.Array
	rows   int
}

func tableFromRecord(rec arrow.Record) *table {
	t := &table{
		fields: append([]arrow.Field(nil), rec.Schema().Fields()...),
		cols:   make([]arrow.Array, rec.NumCols()),
		rows:   int(rec.NumRows()),
	}
	for i := range t.cols {
		col := rec.Column(i)
		col.Retain()
		t.cols[i] = col
	}
	return t
}

func (t *table) record() arrow.Record {
	return array.NewRecord(arrow.NewSchema(t.fields, nil), t.cols, int64(t.rows))
}

func (t *table) index(name string) (int, error) {
	for i, f := range t.fields {
		if f.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

func (t *table) column(name string) (arrow.Array, arrow.Field, error) {
	i, err := t.index(name)
	if err != nil {
		return nil, arrow.Field{}, err
	}
	return t.cols[i], t.fields[i], nil
}

// withColumn returns a copy of the table with one more column.
func (t *table) withColumn(field arrow.Field, col arrow.Array) (*table, error) {
	if _, err := t.index(field.Name); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateField, field.Name)
	}
	out := &table{
		fields: append(append([]arrow.Field(nil), t.fields...), field),
		cols:   append(append([]arrow.Array(nil), t.cols...), col),
		rows:   t.rows,
	}
	return out, nil
}
