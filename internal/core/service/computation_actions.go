package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// DefaultColumnConcurrency bounds the column summaries computed in parallel.
const DefaultColumnConcurrency = 4

// Dispatcher receives the state transitions of running tasks.
type Dispatcher interface {
	Dispatch(action Action)
	NextEpoch() uint64
}

// Runner executes computation tasks against the compute engine and reports
// their progress to a Dispatcher.
type Runner struct {
	dispatcher        Dispatcher
	engine            port.ComputeEngine
	logger            *slog.Logger
	tracer            trace.Tracer
	inst              port.Instrumentation
	journal           port.TaskJournal
	now               func() time.Time
	columnConcurrency int
}

type RunnerOption func(*Runner)

func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

func WithInstrumentation(inst port.Instrumentation) RunnerOption {
	return func(r *Runner) {
		if inst != nil {
			r.inst = inst
		}
	}
}

func WithJournal(journal port.TaskJournal) RunnerOption {
	return func(r *Runner) {
		if journal != nil {
			r.journal = journal
		}
	}
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithColumnConcurrency bounds parallel column summaries. Values below 1 mean no limit.
func WithColumnConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n < 1 {
			n = -1
		}
		r.columnConcurrency = n
	}
}

func NewRunner(dispatcher Dispatcher, engine port.ComputeEngine, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		dispatcher:        dispatcher,
		engine:            engine,
		logger:            logger,
		tracer:            noop.NewTracerProvider().Tracer("noop"),
		inst:              port.NoopInstrumentation{},
		journal:           port.NoopTaskJournal{},
		now:               time.Now,
		columnConcurrency: DefaultColumnConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// taskRun tracks one task invocation from Running to its terminal action.
type taskRun struct {
	r             *Runner
	ctx           context.Context
	span          trace.Span
	kind          TaskKind
	computationID int
	epoch         uint64
	columnID      int
	progress      domain.TaskProgress
	start         time.Time
}

func (r *Runner) begin(ctx context.Context, kind TaskKind, computationID int, epoch uint64, columnID int) *taskRun {
	ctx, span := r.tracer.Start(ctx, "Runner."+kind.String(),
		trace.WithAttributes(
			attribute.Int("computation.id", computationID),
			attribute.Int("column.id", columnID),
			attribute.String("task", kind.String()),
		),
	)
	t := &taskRun{
		r:             r,
		ctx:           ctx,
		span:          span,
		kind:          kind,
		computationID: computationID,
		epoch:         epoch,
		columnID:      columnID,
		progress:      domain.StartTask(r.now()),
		start:         time.Now(),
	}
	r.dispatcher.Dispatch(TaskRunning{
		ComputationID: computationID,
		Epoch:         epoch,
		Task:          kind,
		ColumnID:      columnID,
		Progress:      t.progress,
	})
	return t
}

// transform runs a transform and records its duration on the span.
func (t *taskRun) transform(df port.DataFrame, tr *domain.Transform, args ...port.DataFrame) (port.DataFrame, error) {
	start := time.Now()
	out, err := df.Transform(t.ctx, tr, args...)
	t.span.SetAttributes(attribute.Int64("transform_ms", time.Since(start).Milliseconds()))
	return out, err
}

func (t *taskRun) succeed(action func(domain.TaskProgress) Action) {
	t.progress = t.progress.Succeed(t.r.now())
	t.r.dispatcher.Dispatch(action(t.progress))
	t.finish(nil)
}

func (t *taskRun) failed(err error) error {
	if t.ctx.Err() != nil && !errors.Is(err, domain.ErrTaskCancelled) {
		err = fmt.Errorf("%w: %w", domain.ErrTaskCancelled, err)
	}
	t.progress = t.progress.Fail(t.r.now(), err)
	t.r.dispatcher.Dispatch(TaskFailed{
		ComputationID: t.computationID,
		Epoch:         t.epoch,
		Task:          t.kind,
		ColumnID:      t.columnID,
		Progress:      t.progress,
	})
	t.span.RecordError(err)
	t.span.SetStatus(codes.Error, err.Error())
	t.r.inst.IncrementTaskErrors(t.ctx, t.kind.String())
	t.finish(err)
	return err
}

func (t *taskRun) finish(err error) {
	defer t.span.End()

	duration := time.Since(t.start)
	t.r.inst.RecordTaskDuration(t.ctx, t.kind.String(), float64(duration.Milliseconds()))

	attrs := []slog.Attr{
		slog.Int("computation.id", t.computationID),
		slog.Int("column.id", t.columnID),
		slog.String("task", t.kind.String()),
		slog.Duration("duration", duration),
	}
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	t.r.logger.LogAttrs(t.ctx, level, "task "+t.progress.Status.String(), attrs...)

	t.r.journal.Record(context.WithoutCancel(t.ctx), port.TaskEvent{
		ComputationID: t.computationID,
		ColumnID:      t.columnID,
		Task:          t.kind.String(),
		Status:        t.progress.Status.String(),
		DurationMS:    duration.Milliseconds(),
		Err:           err,
	})
}

// LoadTable registers a result table under a new epoch and loads it into the
// engine. The store cancels the returned lifetime when the computation is
// deleted or replaced.
func (r *Runner) LoadTable(ctx context.Context, computationID int, table arrow.Record) (context.Context, uint64, port.DataFrame, error) {
	if table == nil {
		return nil, 0, nil, fmt.Errorf("%w: result table is missing", domain.ErrMissingDataFrame)
	}
	epoch := r.dispatcher.NextEpoch()
	lifetime, cancel := context.WithCancel(ctx)
	r.dispatcher.Dispatch(ComputationFromQueryResult{
		ComputationID: computationID,
		Epoch:         epoch,
		Table:         table,
		Columns:       domain.ClassifyColumns(table.Schema()),
		Cancel:        cancel,
	})

	df, err := r.engine.CreateDataFrame(lifetime, table)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("creating data frame: %w", err)
	}
	r.dispatcher.Dispatch(CreatedDataFrame{ComputationID: computationID, Epoch: epoch, DataFrame: df})
	return lifetime, epoch, df, nil
}

// AnalyzeTable loads a result table and computes the table summary, the system
// columns and the summary of every summarizable column. Column failures do not
// stop other columns.
func (r *Runner) AnalyzeTable(ctx context.Context, computationID int, table arrow.Record) error {
	lifetime, epoch, df, err := r.LoadTable(ctx, computationID, table)
	if err != nil {
		return err
	}

	summary, columns, err := r.ComputeTableSummary(lifetime, TableSummaryTask{
		ComputationID: computationID,
		Epoch:         epoch,
		Columns:       domain.ClassifyColumns(table.Schema()),
		DataFrame:     df,
	})
	if err != nil {
		return err
	}

	system, err := r.PrecomputeSystemColumns(lifetime, SystemColumnTask{
		ComputationID: computationID,
		Epoch:         epoch,
		Schema:        table.Schema(),
		Columns:       columns,
		DataFrame:     df,
		TableSummary:  summary,
	})
	if err != nil {
		return err
	}

	return r.computeColumnSummaries(lifetime, computationID, epoch, system, summary)
}

func (r *Runner) computeColumnSummaries(ctx context.Context, computationID int, epoch uint64, system *SystemColumns, summary *TableSummary) error {
	var g errgroup.Group
	g.SetLimit(r.columnConcurrency)

	errs := make([]error, len(system.Columns))
	for i, column := range system.Columns {
		if !domain.IsSummarizable(column) {
			continue
		}
		g.Go(func() error {
			_, err := r.ComputeColumnSummary(ctx, ColumnSummaryTask{
				ComputationID: computationID,
				Epoch:         epoch,
				ColumnID:      i,
				Column:        column,
				DataFrame:     system.DataFrame,
				TableSummary:  summary,
			})
			if err != nil {
				errs[i] = fmt.Errorf("column %q: %w", column.FieldName(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// ComputeTableSummary aggregates the data frame into the one-row table summary.
// The returned column groups carry the names of their aggregate fields.
func (r *Runner) ComputeTableSummary(ctx context.Context, task TableSummaryTask) (*TableSummary, []domain.ColumnGroup, error) {
	if task.DataFrame == nil {
		return nil, nil, domain.ErrMissingDataFrame
	}
	transform, columns := domain.BuildTableSummaryTransform(task.Columns)

	t := r.begin(ctx, TaskTableSummary, task.ComputationID, task.Epoch, -1)
	df, err := t.transform(task.DataFrame, transform)
	if err != nil {
		return nil, nil, t.failed(fmt.Errorf("computing table summary: %w", err))
	}
	rec, err := df.ReadTable(t.ctx)
	if err != nil {
		df.Destroy()
		return nil, nil, t.failed(fmt.Errorf("reading table summary: %w", err))
	}
	table, err := domain.NewSummaryTable(rec)
	if err != nil {
		df.Destroy()
		return nil, nil, t.failed(err)
	}

	summary := &TableSummary{SummaryTable: table, DataFrame: df}
	t.span.SetAttributes(attribute.Int64("table.rows", table.TotalCount()))
	t.succeed(func(p domain.TaskProgress) Action {
		return TableSummarySucceeded{
			ComputationID: task.ComputationID,
			Epoch:         task.Epoch,
			Progress:      p,
			Summary:       summary,
			Columns:       slices.Clone(columns),
		}
	})
	return summary, columns, nil
}

// PrecomputeSystemColumns extends the data frame by a row number, the bin of
// every ordinal value and the value identifier of every string or list value.
func (r *Runner) PrecomputeSystemColumns(ctx context.Context, task SystemColumnTask) (*SystemColumns, error) {
	switch {
	case task.DataFrame == nil:
		return nil, domain.ErrMissingDataFrame
	case task.TableSummary == nil:
		return nil, domain.ErrMissingTableSummary
	case task.Schema == nil:
		return nil, fmt.Errorf("%w: schema is missing", domain.ErrMissingDataFrame)
	}
	for _, c := range task.Columns {
		if _, ok := c.(domain.RowNumberColumn); ok {
			return nil, domain.ErrSystemColumnsPresent
		}
	}
	sys, err := domain.BuildSystemColumnTransform(task.Schema, task.Columns)
	if err != nil {
		return nil, err
	}

	t := r.begin(ctx, TaskSystemColumns, task.ComputationID, task.Epoch, -1)
	df, err := t.transform(task.DataFrame, sys.Transform, task.TableSummary.DataFrame)
	if err != nil {
		return nil, t.failed(fmt.Errorf("computing system columns: %w", err))
	}
	rec, err := df.ReadTable(t.ctx)
	if err != nil {
		df.Destroy()
		return nil, t.failed(fmt.Errorf("reading system columns: %w", err))
	}

	result := &SystemColumns{
		DataTable:          rec,
		FieldIndex:         domain.FieldIndex(rec.Schema()),
		DataFrame:          df,
		Columns:            sys.Columns,
		RowNumberFieldName: sys.RowNumberFieldName,
	}
	t.succeed(func(p domain.TaskProgress) Action {
		return SystemColumnsSucceeded{
			ComputationID: task.ComputationID,
			Epoch:         task.Epoch,
			Progress:      p,
			Result:        result,
		}
	})
	return result, nil
}

// SortTable orders the data frame. The sorted frame replaces the data frame, so
// it always keeps every row.
func (r *Runner) SortTable(ctx context.Context, task TableOrderingTask) (*OrderedTable, error) {
	if task.DataFrame == nil {
		return nil, domain.ErrMissingDataFrame
	}

	t := r.begin(ctx, TaskTableOrdering, task.ComputationID, task.Epoch, -1)
	df, err := t.transform(task.DataFrame, domain.BuildOrderByTransform(task.Constraints, 0))
	if err != nil {
		return nil, t.failed(fmt.Errorf("sorting table: %w", err))
	}
	rec, err := df.ReadTable(t.ctx)
	if err != nil {
		df.Destroy()
		return nil, t.failed(fmt.Errorf("reading sorted table: %w", err))
	}

	ordered := &OrderedTable{
		Constraints: slices.Clone(task.Constraints),
		DataTable:   rec,
		FieldIndex:  domain.FieldIndex(rec.Schema()),
		DataFrame:   df,
	}
	t.span.SetAttributes(attribute.Int64("table.rows", rec.NumRows()))
	t.succeed(func(p domain.TaskProgress) Action {
		return TableOrderingSucceeded{
			ComputationID: task.ComputationID,
			Epoch:         task.Epoch,
			Progress:      p,
			Table:         ordered,
		}
	})
	return ordered, nil
}

// FilterTable computes the row numbers passing all filters. Without filters it
// succeeds with a nil table, which clears the installed filter.
func (r *Runner) FilterTable(ctx context.Context, task TableFilteringTask) (*FilterTable, error) {
	switch {
	case task.DataFrame == nil:
		return nil, domain.ErrMissingDataFrame
	case task.RowNumberFieldName == "":
		return nil, fmt.Errorf("%w: row number column missing", domain.ErrColumnNotFilterable)
	}
	transform := domain.BuildFilterTransform(task.Filters, task.RowNumberFieldName)

	t := r.begin(ctx, TaskTableFiltering, task.ComputationID, task.Epoch, -1)
	if transform == nil {
		t.succeed(func(p domain.TaskProgress) Action {
			return TableFilteringSucceeded{ComputationID: task.ComputationID, Epoch: task.Epoch, Progress: p}
		})
		return nil, nil
	}
	df, err := t.transform(task.DataFrame, transform)
	if err != nil {
		return nil, t.failed(fmt.Errorf("filtering table: %w", err))
	}
	rec, err := df.ReadTable(t.ctx)
	if err != nil {
		df.Destroy()
		return nil, t.failed(fmt.Errorf("reading filter table: %w", err))
	}

	filter := &FilterTable{
		RowNumberFieldName: task.RowNumberFieldName,
		DataTable:          rec,
		DataFrame:          df,
		Epoch:              r.dispatcher.NextEpoch(),
	}
	t.span.SetAttributes(attribute.Int64("table.rows", rec.NumRows()))
	t.succeed(func(p domain.TaskProgress) Action {
		return TableFilteringSucceeded{
			ComputationID: task.ComputationID,
			Epoch:         task.Epoch,
			Progress:      p,
			Filter:        filter,
		}
	})
	return filter, nil
}

// ComputeColumnSummary computes the histogram or frequent values of a column.
// The engine frame is released as soon as the result is read.
func (r *Runner) ComputeColumnSummary(ctx context.Context, task ColumnSummaryTask) (ColumnSummary, error) {
	switch {
	case task.DataFrame == nil:
		return nil, domain.ErrMissingDataFrame
	case task.TableSummary == nil:
		return nil, domain.ErrMissingTableSummary
	}
	cst, err := domain.BuildColumnSummaryTransform(task.Column)
	if err != nil {
		return nil, err
	}

	t := r.begin(ctx, TaskColumnSummary, task.ComputationID, task.Epoch, task.ColumnID)
	df, err := t.transform(task.DataFrame, cst.Transform, task.TableSummary.DataFrame)
	if err != nil {
		return nil, t.failed(fmt.Errorf("computing column summary: %w", err))
	}
	rec, err := df.ReadTable(t.ctx)
	df.Destroy()
	if err != nil {
		return nil, t.failed(fmt.Errorf("reading column summary: %w", err))
	}
	summary, err := extractColumnSummary(task.TableSummary.SummaryTable, task.Column, rec, nil)
	if err != nil {
		return nil, t.failed(err)
	}

	t.succeed(func(p domain.TaskProgress) Action {
		return ColumnSummarySucceeded{
			ComputationID: task.ComputationID,
			Epoch:         task.Epoch,
			ColumnID:      task.ColumnID,
			Progress:      p,
			Summary:       summary,
		}
	})
	return summary, nil
}

// ComputeFilteredColumnSummary computes a column summary over the rows of the
// installed filter table. The summary keeps its engine frame.
func (r *Runner) ComputeFilteredColumnSummary(ctx context.Context, task FilteredColumnSummaryTask) (ColumnSummary, error) {
	switch {
	case task.DataFrame == nil:
		return nil, domain.ErrMissingDataFrame
	case task.TableSummary == nil:
		return nil, domain.ErrMissingTableSummary
	case task.FilterTable == nil:
		return nil, domain.ErrMissingFilterTable
	}
	cst, err := domain.BuildFilteredColumnSummaryTransform(task.Column, task.FilterTable.RowNumberFieldName)
	if err != nil {
		return nil, err
	}

	t := r.begin(ctx, TaskFilteredColumnSummary, task.ComputationID, task.Epoch, task.ColumnID)
	df, err := t.transform(task.DataFrame, cst.Transform, task.TableSummary.DataFrame, task.FilterTable.DataFrame)
	if err != nil {
		return nil, t.failed(fmt.Errorf("computing filtered column summary: %w", err))
	}
	rec, err := df.ReadTable(t.ctx)
	if err != nil {
		df.Destroy()
		return nil, t.failed(fmt.Errorf("reading filtered column summary: %w", err))
	}
	summary, err := extractColumnSummary(task.TableSummary.SummaryTable, task.Column, rec, df)
	if err != nil {
		df.Destroy()
		return nil, t.failed(err)
	}

	t.succeed(func(p domain.TaskProgress) Action {
		return FilteredColumnSummarySucceeded{
			ComputationID: task.ComputationID,
			Epoch:         task.Epoch,
			ColumnID:      task.ColumnID,
			FilterEpoch:   task.FilterTable.Epoch,
			Progress:      p,
			Summary:       summary,
		}
	})
	return summary, nil
}

func extractColumnSummary(table *domain.SummaryTable, column domain.ColumnGroup, rec arrow.Record, frame port.DataFrame) (ColumnSummary, error) {
	switch c := column.(type) {
	case domain.OrdinalColumn:
		analysis, err := domain.AnalyzeOrdinalColumn(table, c, rec)
		if err != nil {
			return nil, err
		}
		return &OrdinalColumnSummary{
			ColumnGroup:  c,
			BinnedValues: rec,
			Formatter:    domain.NewTableFormatter(rec),
			Analysis:     analysis,
			DataFrame:    frame,
		}, nil
	case domain.StringColumn:
		analysis, err := domain.AnalyzeStringColumn(table, c, rec)
		if err != nil {
			return nil, err
		}
		return &StringColumnSummary{
			ColumnGroup:    c,
			FrequentValues: rec,
			Formatter:      domain.NewTableFormatter(rec),
			Analysis:       analysis,
			DataFrame:      frame,
		}, nil
	case domain.ListColumn:
		analysis, err := domain.AnalyzeListColumn(table, c, rec)
		if err != nil {
			return nil, err
		}
		return &ListColumnSummary{
			ColumnGroup:    c,
			FrequentValues: rec,
			Formatter:      domain.NewTableFormatter(rec),
			Analysis:       analysis,
			DataFrame:      frame,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s column %q", domain.ErrColumnNotSummarizable, column.Kind(), column.FieldName())
	}
}
