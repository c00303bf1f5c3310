package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type toolNameKey struct{}

// WithToolName returns a context carrying the MCP tool name for logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// AnalyzeRequest asks for the column summaries of a query result.
// Filters brush ordinal columns by name over their bin range; the filtered
// summaries of every column are reported alongside the unfiltered ones.
type AnalyzeRequest struct {
	SQL     string
	Filters map[string][2]float64
}

// SortRequest asks for the rows of a query result in a given order.
type SortRequest struct {
	SQL         string
	Constraints []domain.OrderByConstraint
	Limit       int
}

// ColumnAnalysis holds the analysis matching the column kind.
type ColumnAnalysis struct {
	Ordinal *domain.OrdinalColumnAnalysis `json:"ordinal,omitempty"`
	String  *domain.StringColumnAnalysis  `json:"string,omitempty"`
	List    *domain.ListColumnAnalysis    `json:"list,omitempty"`
}

type ColumnReport struct {
	Name string            `json:"name"`
	Kind domain.ColumnKind `json:"kind"`
	Type string            `json:"type"`
	ColumnAnalysis
	Filtered *ColumnAnalysis `json:"filtered,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// TableReport is the analysis of one query result.
type TableReport struct {
	Rows         int64          `json:"rows"`
	FilteredRows *int64         `json:"filtered_rows,omitempty"`
	Columns      []ColumnReport `json:"columns"`
}

// SortedTable is a sorted query result with display-formatted values.
type SortedTable struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// AnalysisService orchestrates query validation, result fetching and the
// computation tasks of a result table.
type AnalysisService struct {
	validator port.QueryValidator
	source    port.ResultSource
	store     *Store
	runner    *Runner
	logger    *slog.Logger
	masks     map[string]domain.MaskType // column-name → mask-type (nil = no masking)
	tracer    trace.Tracer
	inst      port.Instrumentation
	nextID    atomic.Int64
}

func NewAnalysisService(validator port.QueryValidator, source port.ResultSource, store *Store, runner *Runner, logger *slog.Logger, masks map[string]domain.MaskType, tracer trace.Tracer, inst port.Instrumentation) *AnalysisService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &AnalysisService{
		validator: validator,
		source:    source,
		store:     store,
		runner:    runner,
		logger:    logger,
		masks:     masks,
		tracer:    tracer,
		inst:      inst,
	}
}

// Analyze validates the query, fetches its result and summarizes every column.
// Column failures are reported per column; table-level failures fail the call.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalyzeRequest) (*TableReport, error) {
	ctx, span := s.tracer.Start(ctx, "AnalysisService.Analyze",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", req.SQL),
			attribute.Int("filters", len(req.Filters)),
		),
	)
	defer span.End()

	table, err := s.fetch(ctx, span, req.SQL)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	id := int(s.nextID.Add(1))
	defer s.store.Dispatch(DeleteComputation{ComputationID: id})

	analyzeErr := s.runner.AnalyzeTable(ctx, id, table)
	state, ok := s.store.Computation(id)
	if !ok || !succeeded(state.Tasks.SystemColumns) {
		if analyzeErr == nil {
			analyzeErr = fmt.Errorf("computation %d vanished", id)
		}
		span.RecordError(analyzeErr)
		span.SetStatus(codes.Error, analyzeErr.Error())
		return nil, analyzeErr
	}
	if analyzeErr != nil {
		s.logger.WarnContext(ctx, "column summaries failed",
			slog.Int("computation.id", id),
			slog.String("tool", toolNameFromCtx(ctx)),
			slog.String("error", analyzeErr.Error()),
		)
	}

	if len(req.Filters) > 0 {
		if err := s.crossFilter(ctx, state, req.Filters); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		state, _ = s.store.Computation(id)
	}

	report := s.report(state, domain.OutputColumnMasks(req.SQL, s.masks))
	span.SetAttributes(attribute.Int64("db.response.rows", report.Rows))
	return report, nil
}

// Sort validates the query, fetches its result and returns it sorted.
func (s *AnalysisService) Sort(ctx context.Context, req SortRequest) (*SortedTable, error) {
	ctx, span := s.tracer.Start(ctx, "AnalysisService.Sort",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", req.SQL),
		),
	)
	defer span.End()

	table, err := s.fetch(ctx, span, req.SQL)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	id := int(s.nextID.Add(1))
	defer s.store.Dispatch(DeleteComputation{ComputationID: id})

	lifetime, _, _, err := s.runner.LoadTable(ctx, id, table)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	state, ok := s.store.Computation(id)
	if !ok {
		return nil, fmt.Errorf("computation %d vanished", id)
	}
	ordered, err := s.runner.SortTable(lifetime, state.SortTask(req.Constraints))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sorted := formatRows(ordered.DataTable, req.Limit, domain.OutputColumnMasks(req.SQL, s.masks))
	span.SetAttributes(attribute.Int("db.response.rows", len(sorted.Rows)))
	return sorted, nil
}

func (s *AnalysisService) fetch(ctx context.Context, span trace.Span, sql string) (arrow.Record, error) {
	if err := s.validator.Validate(sql); err != nil {
		s.logger.WarnContext(ctx, "query validation rejected",
			slog.String("db.statement", sql),
			slog.String("tool", toolNameFromCtx(ctx)),
			slog.String("error.type", "validation_error"),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("validation: %w", err)
	}

	start := time.Now()
	table, err := s.source.Query(ctx, sql)
	s.inst.RecordQueryDuration(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return table, nil
}

// crossFilter brushes the named ordinal columns and computes the filtered
// summary of every summarizable column.
func (s *AnalysisService) crossFilter(ctx context.Context, state TableComputationState, brushes map[string][2]float64) error {
	byName := make(map[string]int, len(state.ColumnGroups))
	for i, c := range state.ColumnGroups {
		byName[c.FieldName()] = i
	}
	filters := domain.NewCrossFilters()
	for name, brush := range brushes {
		i, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: unknown column %q", domain.ErrColumnNotFilterable, name)
		}
		column, ok := state.ColumnGroups[i].(domain.OrdinalColumn)
		if !ok {
			return fmt.Errorf("%w: %s column %q", domain.ErrColumnNotFilterable, state.ColumnGroups[i].Kind(), name)
		}
		filters.AddHistogramFilter(i, column, &brush)
	}

	if _, err := s.runner.FilterTable(ctx, state.FilterTask(filters.FilterTransforms())); err != nil {
		return err
	}
	state, ok := s.store.Computation(state.ComputationID)
	if !ok || state.FilterTable == nil {
		return nil
	}
	var errs []error
	for i, c := range state.ColumnGroups {
		if !domain.IsSummarizable(c) {
			continue
		}
		task, _ := state.FilteredColumnSummaryTask(i)
		if _, err := s.runner.ComputeFilteredColumnSummary(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("column %q: %w", c.FieldName(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.WarnContext(ctx, "filtered column summaries failed",
			slog.Int("computation.id", state.ComputationID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *AnalysisService) report(state TableComputationState, masks map[string]domain.MaskType) *TableReport {
	report := &TableReport{Columns: make([]ColumnReport, 0, len(state.ColumnGroups))}
	if state.TableSummary != nil {
		report.Rows = state.TableSummary.TotalCount()
	}
	if state.FilterTable != nil && state.FilterTable.DataTable != nil {
		n := state.FilterTable.DataTable.NumRows()
		report.FilteredRows = &n
	}

	for i, c := range state.ColumnGroups {
		input, ok := inputField(c)
		if !ok {
			continue
		}
		mask := masks[input.Name]
		cr := ColumnReport{
			Name:           input.Name,
			Kind:           c.Kind(),
			Type:           input.Type.String(),
			ColumnAnalysis: maskedAnalysis(state.ColumnSummaries[i], mask),
		}
		if fs := state.FilteredColumnSummaries[i]; fs != nil {
			filtered := maskedAnalysis(fs, mask)
			cr.Filtered = &filtered
		}
		if p := state.Tasks.ColumnSummaries[i]; p != nil && p.Err != nil {
			cr.Error = p.Err.Error()
		}
		report.Columns = append(report.Columns, cr)
	}
	return report
}

func maskedAnalysis(summary ColumnSummary, mask domain.MaskType) ColumnAnalysis {
	switch cs := summary.(type) {
	case *OrdinalColumnSummary:
		a := domain.MaskOrdinalAnalysis(cs.Analysis, mask)
		return ColumnAnalysis{Ordinal: &a}
	case *StringColumnSummary:
		a := cs.Analysis
		a.FrequentValues = domain.MaskFrequentValues(a.FrequentValues, mask)
		return ColumnAnalysis{String: &a}
	case *ListColumnSummary:
		a := cs.Analysis
		a.FrequentValues = domain.MaskFrequentValues(a.FrequentValues, mask)
		return ColumnAnalysis{List: &a}
	default:
		return ColumnAnalysis{}
	}
}

func inputField(c domain.ColumnGroup) (domain.InputField, bool) {
	switch col := c.(type) {
	case domain.OrdinalColumn:
		return col.Input, true
	case domain.StringColumn:
		return col.Input, true
	case domain.ListColumn:
		return col.Input, true
	case domain.SkippedColumn:
		return col.Input, true
	default:
		return domain.InputField{}, false
	}
}

func succeeded(p *domain.TaskProgress) bool {
	return p != nil && p.Status == domain.TaskSucceeded
}

// formatRows renders the first limit rows of a record as display strings, all
// rows when limit is 0. Nulls stay nil.
func formatRows(rec arrow.Record, limit int, masks map[string]domain.MaskType) *SortedTable {
	schema := rec.Schema()
	n := int(rec.NumRows())
	if limit > 0 && limit < n {
		n = limit
	}
	out := &SortedTable{
		Columns: make([]string, schema.NumFields()),
		Rows:    make([]map[string]any, n),
	}
	for c, f := range schema.Fields() {
		out.Columns[c] = f.Name
	}
	for r := range out.Rows {
		row := make(map[string]any, len(out.Columns))
		for c, name := range out.Columns {
			v, ok := domain.FormatValue(rec.Column(c), r)
			if ok && masks[name] != "" {
				v, ok = domain.MaskLabel(v, masks[name])
			}
			if !ok {
				row[name] = nil
				continue
			}
			row[name] = v
		}
		out.Rows[r] = row
	}
	return out
}
