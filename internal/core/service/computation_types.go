package service

import (
	"context"
	"slices"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/apache/arrow-go/v18/arrow"
)

// TaskKind names the tasks of a table computation.
type TaskKind int

const (
	TaskTableSummary TaskKind = iota
	TaskSystemColumns
	TaskTableOrdering
	TaskTableFiltering
	TaskColumnSummary
	TaskFilteredColumnSummary
)

func (k TaskKind) String() string {
	switch k {
	case TaskTableSummary:
		return "table_summary"
	case TaskSystemColumns:
		return "system_columns"
	case TaskTableOrdering:
		return "table_ordering"
	case TaskTableFiltering:
		return "table_filtering"
	case TaskColumnSummary:
		return "column_summary"
	case TaskFilteredColumnSummary:
		return "filtered_column_summary"
	default:
		return "unknown"
	}
}

// TableSummary is the one-row table summary and the engine frame holding it.
type TableSummary struct {
	*domain.SummaryTable
	DataFrame port.DataFrame
}

// ColumnSummary is the result of a column summary task.
// Implementations are *OrdinalColumnSummary, *StringColumnSummary and *ListColumnSummary.
type ColumnSummary interface {
	Column() domain.ColumnGroup
	// Frame returns the engine frame retained by the summary, or nil.
	Frame() port.DataFrame
	isColumnSummary()
}

type OrdinalColumnSummary struct {
	ColumnGroup  domain.OrdinalColumn
	BinnedValues arrow.Record
	Formatter    *domain.TableFormatter
	Analysis     domain.OrdinalColumnAnalysis
	DataFrame    port.DataFrame
}

type StringColumnSummary struct {
	ColumnGroup    domain.StringColumn
	FrequentValues arrow.Record
	Formatter      *domain.TableFormatter
	Analysis       domain.StringColumnAnalysis
	DataFrame      port.DataFrame
}

type ListColumnSummary struct {
	ColumnGroup    domain.ListColumn
	FrequentValues arrow.Record
	Formatter      *domain.TableFormatter
	Analysis       domain.ListColumnAnalysis
	DataFrame      port.DataFrame
}

func (s *OrdinalColumnSummary) Column() domain.ColumnGroup { return s.ColumnGroup }
func (s *StringColumnSummary) Column() domain.ColumnGroup  { return s.ColumnGroup }
func (s *ListColumnSummary) Column() domain.ColumnGroup    { return s.ColumnGroup }

func (s *OrdinalColumnSummary) Frame() port.DataFrame { return s.DataFrame }
func (s *StringColumnSummary) Frame() port.DataFrame  { return s.DataFrame }
func (s *ListColumnSummary) Frame() port.DataFrame    { return s.DataFrame }

func (*OrdinalColumnSummary) isColumnSummary() {}
func (*StringColumnSummary) isColumnSummary()  {}
func (*ListColumnSummary) isColumnSummary()    {}

// OrderedTable is the result of a sort.
type OrderedTable struct {
	Constraints []domain.OrderByConstraint
	DataTable   arrow.Record
	FieldIndex  map[string]int
	DataFrame   port.DataFrame
}

// FilterTable holds the row numbers of the rows passing the active filters.
type FilterTable struct {
	RowNumberFieldName string
	DataTable          arrow.Record
	DataFrame          port.DataFrame
	// Epoch identifies the filter. Filtered summaries of another epoch are stale.
	Epoch uint64
}

// SystemColumns is the data frame extended by row number, bin and value id columns.
type SystemColumns struct {
	DataTable          arrow.Record
	FieldIndex         map[string]int
	DataFrame          port.DataFrame
	Columns            []domain.ColumnGroup
	RowNumberFieldName string
}

// TableComputationTasks is the latest progress of every task of a table.
// A nil entry means the task never ran.
type TableComputationTasks struct {
	TableSummary            *domain.TaskProgress
	SystemColumns           *domain.TaskProgress
	Ordering                *domain.TaskProgress
	Filtering               *domain.TaskProgress
	ColumnSummaries         []*domain.TaskProgress
	FilteredColumnSummaries []*domain.TaskProgress
}

// TableComputationState is the computation record of one result table.
// The per-column slices always have the length of ColumnGroups.
type TableComputationState struct {
	ComputationID int
	// Epoch is assigned at registration. Results of an older registration are discarded.
	Epoch uint64
	// Version counts installed results.
	Version uint64

	DataTable          arrow.Record
	FieldIndex         map[string]int
	DataFrame          port.DataFrame
	ColumnGroups       []domain.ColumnGroup
	Ordering           []domain.OrderByConstraint
	RowNumberFieldName string

	FilterTable             *FilterTable
	TableSummary            *TableSummary
	ColumnSummaries         []ColumnSummary
	FilteredColumnSummaries []ColumnSummary

	Tasks TableComputationTasks

	cancel context.CancelFunc
}

func newTableComputationState(id int, epoch uint64, table arrow.Record, columns []domain.ColumnGroup, cancel context.CancelFunc) *TableComputationState {
	st := &TableComputationState{
		ComputationID: id,
		Epoch:         epoch,
		DataTable:     table,
		cancel:        cancel,
	}
	if table != nil {
		st.FieldIndex = domain.FieldIndex(table.Schema())
	}
	st.resetColumns(columns)
	return st
}

// resetColumns installs new column groups and returns the summaries that were dropped.
func (s *TableComputationState) resetColumns(columns []domain.ColumnGroup) []ColumnSummary {
	dropped := make([]ColumnSummary, 0, len(s.ColumnSummaries)+len(s.FilteredColumnSummaries))
	dropped = append(dropped, s.ColumnSummaries...)
	dropped = append(dropped, s.FilteredColumnSummaries...)

	s.ColumnGroups = slices.Clone(columns)
	s.ColumnSummaries = make([]ColumnSummary, len(columns))
	s.FilteredColumnSummaries = make([]ColumnSummary, len(columns))
	s.Tasks.ColumnSummaries = make([]*domain.TaskProgress, len(columns))
	s.Tasks.FilteredColumnSummaries = make([]*domain.TaskProgress, len(columns))
	return dropped
}

func (s *TableComputationState) clone() TableComputationState {
	out := *s
	out.ColumnGroups = slices.Clone(s.ColumnGroups)
	out.Ordering = slices.Clone(s.Ordering)
	out.ColumnSummaries = slices.Clone(s.ColumnSummaries)
	out.FilteredColumnSummaries = slices.Clone(s.FilteredColumnSummaries)
	out.Tasks.ColumnSummaries = slices.Clone(s.Tasks.ColumnSummaries)
	out.Tasks.FilteredColumnSummaries = slices.Clone(s.Tasks.FilteredColumnSummaries)
	return out
}

func (s *TableComputationState) validColumn(id int) bool {
	return id >= 0 && id < len(s.ColumnGroups)
}

// TableSummaryTask returns the input of a table summary over the current frame.
func (s *TableComputationState) TableSummaryTask() TableSummaryTask {
	return TableSummaryTask{
		ComputationID: s.ComputationID,
		Epoch:         s.Epoch,
		Columns:       slices.Clone(s.ColumnGroups),
		DataFrame:     s.DataFrame,
	}
}

// SystemColumnTask returns the input of the system column precomputation.
func (s *TableComputationState) SystemColumnTask() SystemColumnTask {
	var schema *arrow.Schema
	if s.DataTable != nil {
		schema = s.DataTable.Schema()
	}
	return SystemColumnTask{
		ComputationID: s.ComputationID,
		Epoch:         s.Epoch,
		Schema:        schema,
		Columns:       slices.Clone(s.ColumnGroups),
		DataFrame:     s.DataFrame,
		TableSummary:  s.TableSummary,
	}
}

// SortTask returns the input of a sort over the current frame.
func (s *TableComputationState) SortTask(constraints []domain.OrderByConstraint) TableOrderingTask {
	return TableOrderingTask{
		ComputationID: s.ComputationID,
		Epoch:         s.Epoch,
		DataFrame:     s.DataFrame,
		Constraints:   slices.Clone(constraints),
	}
}

// FilterTask returns the input of a filter over the current frame.
func (s *TableComputationState) FilterTask(filters []domain.FilterTransform) TableFilteringTask {
	return TableFilteringTask{
		ComputationID:      s.ComputationID,
		Epoch:              s.Epoch,
		DataFrame:          s.DataFrame,
		RowNumberFieldName: s.RowNumberFieldName,
		Filters:            slices.Clone(filters),
	}
}

// ColumnSummaryTask returns the input of a column summary. It returns false for unknown columns.
func (s *TableComputationState) ColumnSummaryTask(columnID int) (ColumnSummaryTask, bool) {
	if !s.validColumn(columnID) {
		return ColumnSummaryTask{}, false
	}
	return ColumnSummaryTask{
		ComputationID: s.ComputationID,
		Epoch:         s.Epoch,
		ColumnID:      columnID,
		Column:        s.ColumnGroups[columnID],
		DataFrame:     s.DataFrame,
		TableSummary:  s.TableSummary,
	}, true
}

// FilteredColumnSummaryTask returns the input of a filtered column summary under the active filter.
func (s *TableComputationState) FilteredColumnSummaryTask(columnID int) (FilteredColumnSummaryTask, bool) {
	task, ok := s.ColumnSummaryTask(columnID)
	if !ok {
		return FilteredColumnSummaryTask{}, false
	}
	return FilteredColumnSummaryTask{ColumnSummaryTask: task, FilterTable: s.FilterTable}, true
}

// Task inputs. Every task carries the computation id and the registration epoch
// its results belong to.

type TableSummaryTask struct {
	ComputationID int
	Epoch         uint64
	Columns       []domain.ColumnGroup
	DataFrame     port.DataFrame
}

type SystemColumnTask struct {
	ComputationID int
	Epoch         uint64
	Schema        *arrow.Schema
	Columns       []domain.ColumnGroup
	DataFrame     port.DataFrame
	TableSummary  *TableSummary
}

type TableOrderingTask struct {
	ComputationID int
	Epoch         uint64
	DataFrame     port.DataFrame
	Constraints   []domain.OrderByConstraint
}

type TableFilteringTask struct {
	ComputationID      int
	Epoch              uint64
	DataFrame          port.DataFrame
	RowNumberFieldName string
	Filters            []domain.FilterTransform
}

type ColumnSummaryTask struct {
	ComputationID int
	Epoch         uint64
	ColumnID      int
	Column        domain.ColumnGroup
	DataFrame     port.DataFrame
	TableSummary  *TableSummary
}

type FilteredColumnSummaryTask struct {
	ColumnSummaryTask
	FilterTable *FilterTable
}
