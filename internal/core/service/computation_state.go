package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/apache/arrow-go/v18/arrow"
)

// Action is a state transition of the computation store.
type Action interface {
	isAction()
}

// ComputationFromQueryResult registers a result table. An existing record with
// the same id is retired.
type ComputationFromQueryResult struct {
	ComputationID int
	Epoch         uint64
	Table         arrow.Record
	Columns       []domain.ColumnGroup
	// Cancel ends the lifetime of the computation's tasks.
	Cancel context.CancelFunc
}

type DeleteComputation struct {
	ComputationID int
}

type CreatedDataFrame struct {
	ComputationID int
	Epoch         uint64
	DataFrame     port.DataFrame
}

// TaskRunning marks a task as started. ColumnID is -1 for table-level tasks.
type TaskRunning struct {
	ComputationID int
	Epoch         uint64
	Task          TaskKind
	ColumnID      int
	Progress      domain.TaskProgress
}

// TaskFailed marks a task as failed. The previous result of the task stays installed.
type TaskFailed struct {
	ComputationID int
	Epoch         uint64
	Task          TaskKind
	ColumnID      int
	Progress      domain.TaskProgress
}

type TableSummarySucceeded struct {
	ComputationID int
	Epoch         uint64
	Progress      domain.TaskProgress
	Summary       *TableSummary
	Columns       []domain.ColumnGroup
}

type SystemColumnsSucceeded struct {
	ComputationID int
	Epoch         uint64
	Progress      domain.TaskProgress
	Result        *SystemColumns
}

type TableOrderingSucceeded struct {
	ComputationID int
	Epoch         uint64
	Progress      domain.TaskProgress
	Table         *OrderedTable
}

// TableFilteringSucceeded installs a filter table. A nil filter clears the filter.
type TableFilteringSucceeded struct {
	ComputationID int
	Epoch         uint64
	Progress      domain.TaskProgress
	Filter        *FilterTable
}

type ColumnSummarySucceeded struct {
	ComputationID int
	Epoch         uint64
	ColumnID      int
	Progress      domain.TaskProgress
	Summary       ColumnSummary
}

type FilteredColumnSummarySucceeded struct {
	ComputationID int
	Epoch         uint64
	ColumnID      int
	FilterEpoch   uint64
	Progress      domain.TaskProgress
	Summary       ColumnSummary
}

func (ComputationFromQueryResult) isAction()     {}
func (DeleteComputation) isAction()              {}
func (CreatedDataFrame) isAction()               {}
func (TaskRunning) isAction()                    {}
func (TaskFailed) isAction()                     {}
func (TableSummarySucceeded) isAction()          {}
func (SystemColumnsSucceeded) isAction()         {}
func (TableOrderingSucceeded) isAction()         {}
func (TableFilteringSucceeded) isAction()        {}
func (ColumnSummarySucceeded) isAction()         {}
func (FilteredColumnSummarySucceeded) isAction() {}

// Store is the registry of table computations. It owns every engine frame
// installed in a record and destroys it exactly once, when the frame is
// replaced or the record is deleted. Dispatches are serialized.
type Store struct {
	logger *slog.Logger

	mu           sync.Mutex
	epoch        uint64
	computations map[int]*TableComputationState
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:       logger,
		computations: make(map[int]*TableComputationState),
	}
}

// NextEpoch returns a new, strictly increasing epoch.
func (s *Store) NextEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.epoch
}

// Computation returns a snapshot of a computation record.
// Frames referenced by the snapshot remain owned by the store.
func (s *Store) Computation(id int) (TableComputationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.computations[id]
	if !ok {
		return TableComputationState{}, false
	}
	return st.clone(), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.computations)
}

// Close deletes every computation.
func (s *Store) Close() {
	s.mu.Lock()
	records := s.computations
	s.computations = make(map[int]*TableComputationState)
	s.mu.Unlock()
	for _, st := range records {
		destroyComputation(st)
	}
}

// Dispatch applies an action. Actions for unknown computations are no-ops,
// except that the frames they carry are destroyed since nobody else owns them.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch a := action.(type) {
	case ComputationFromQueryResult:
		s.register(a)
	case DeleteComputation:
		if st, ok := s.computations[a.ComputationID]; ok {
			delete(s.computations, a.ComputationID)
			destroyComputation(st)
		}
	case CreatedDataFrame:
		st := s.lookup(a.ComputationID, a.Epoch)
		if st == nil {
			destroyFrame(a.DataFrame)
			return
		}
		prev := st.DataFrame
		st.DataFrame = a.DataFrame
		st.Version++
		retireFrame(prev, a.DataFrame)
	case TaskRunning:
		if st := s.lookup(a.ComputationID, a.Epoch); st != nil {
			st.setProgress(a.Task, a.ColumnID, a.Progress)
		}
	case TaskFailed:
		if st := s.lookup(a.ComputationID, a.Epoch); st != nil {
			st.setProgress(a.Task, a.ColumnID, a.Progress)
		}
	case TableSummarySucceeded:
		s.tableSummarySucceeded(a)
	case SystemColumnsSucceeded:
		s.systemColumnsSucceeded(a)
	case TableOrderingSucceeded:
		s.tableOrderingSucceeded(a)
	case TableFilteringSucceeded:
		s.tableFilteringSucceeded(a)
	case ColumnSummarySucceeded:
		s.columnSummarySucceeded(a)
	case FilteredColumnSummarySucceeded:
		s.filteredColumnSummarySucceeded(a)
	default:
		s.logger.Warn("ignoring unknown computation action", slog.String("action", fmt.Sprintf("%T", action)))
	}
}

func (s *Store) register(a ComputationFromQueryResult) {
	prev := s.computations[a.ComputationID]
	s.computations[a.ComputationID] = newTableComputationState(a.ComputationID, a.Epoch, a.Table, a.Columns, a.Cancel)
	if prev != nil {
		s.logger.Debug("retiring replaced computation",
			slog.Int("computation.id", a.ComputationID),
			slog.Uint64("epoch", prev.Epoch),
		)
		destroyComputation(prev)
	}
}

// lookup returns the record an action belongs to, or nil when the record is
// gone or was registered again since the action's task started.
func (s *Store) lookup(id int, epoch uint64) *TableComputationState {
	st, ok := s.computations[id]
	if !ok || st.Epoch != epoch {
		return nil
	}
	return st
}

func (s *Store) tableSummarySucceeded(a TableSummarySucceeded) {
	st := s.lookup(a.ComputationID, a.Epoch)
	if st == nil {
		destroyTableSummary(a.Summary)
		return
	}
	prev := st.TableSummary
	st.TableSummary = a.Summary
	var dropped []ColumnSummary
	if len(a.Columns) == len(st.ColumnGroups) {
		st.ColumnGroups = append(st.ColumnGroups[:0:0], a.Columns...)
	} else {
		dropped = st.resetColumns(a.Columns)
	}
	st.Tasks.TableSummary = &a.Progress
	st.Version++

	if prev != nil && prev != a.Summary {
		destroyTableSummary(prev)
	}
	destroyColumnSummaries(dropped)
}

func (s *Store) systemColumnsSucceeded(a SystemColumnsSucceeded) {
	st := s.lookup(a.ComputationID, a.Epoch)
	if st == nil || a.Result == nil {
		if a.Result != nil {
			destroyFrame(a.Result.DataFrame)
		}
		return
	}
	prev := st.DataFrame
	st.DataTable = a.Result.DataTable
	st.FieldIndex = a.Result.FieldIndex
	st.DataFrame = a.Result.DataFrame
	st.RowNumberFieldName = a.Result.RowNumberFieldName
	dropped := st.resetColumns(a.Result.Columns)
	st.Tasks.SystemColumns = &a.Progress
	st.Version++

	retireFrame(prev, a.Result.DataFrame)
	destroyColumnSummaries(dropped)
}

func (s *Store) tableOrderingSucceeded(a TableOrderingSucceeded) {
	st := s.lookup(a.ComputationID, a.Epoch)
	if st == nil || a.Table == nil {
		if a.Table != nil {
			destroyFrame(a.Table.DataFrame)
		}
		return
	}
	prev := st.DataFrame
	st.DataTable = a.Table.DataTable
	st.FieldIndex = a.Table.FieldIndex
	st.DataFrame = a.Table.DataFrame
	st.Ordering = append([]domain.OrderByConstraint(nil), a.Table.Constraints...)
	st.Tasks.Ordering = &a.Progress
	st.Version++

	retireFrame(prev, a.Table.DataFrame)
}

func (s *Store) tableFilteringSucceeded(a TableFilteringSucceeded) {
	st := s.lookup(a.ComputationID, a.Epoch)
	if st == nil {
		if a.Filter != nil {
			destroyFrame(a.Filter.DataFrame)
		}
		return
	}
	prev := st.FilterTable
	st.FilterTable = a.Filter
	stale := st.FilteredColumnSummaries
	st.FilteredColumnSummaries = make([]ColumnSummary, len(st.ColumnGroups))
	st.Tasks.Filtering = &a.Progress
	st.Version++

	if prev != nil && (a.Filter == nil || prev.DataFrame != a.Filter.DataFrame) {
		destroyFrame(prev.DataFrame)
	}
	destroyColumnSummaries(stale)
}

func (s *Store) columnSummarySucceeded(a ColumnSummarySucceeded) {
	st := s.lookup(a.ComputationID, a.Epoch)
	if st == nil || !st.validColumn(a.ColumnID) {
		destroyColumnSummary(a.Summary)
		return
	}
	prev := st.ColumnSummaries[a.ColumnID]
	st.ColumnSummaries[a.ColumnID] = a.Summary
	st.Tasks.ColumnSummaries[a.ColumnID] = &a.Progress
	st.Version++

	if prev != a.Summary {
		destroyColumnSummary(prev)
	}
}

func (s *Store) filteredColumnSummarySucceeded(a FilteredColumnSummarySucceeded) {
	st := s.lookup(a.ComputationID, a.Epoch)
	if st == nil || !st.validColumn(a.ColumnID) || st.FilterTable == nil || st.FilterTable.Epoch != a.FilterEpoch {
		destroyColumnSummary(a.Summary)
		return
	}
	prev := st.FilteredColumnSummaries[a.ColumnID]
	st.FilteredColumnSummaries[a.ColumnID] = a.Summary
	st.Tasks.FilteredColumnSummaries[a.ColumnID] = &a.Progress
	st.Version++

	if prev != a.Summary {
		destroyColumnSummary(prev)
	}
}

func (s *TableComputationState) setProgress(task TaskKind, columnID int, p domain.TaskProgress) {
	switch task {
	case TaskTableSummary:
		s.Tasks.TableSummary = &p
	case TaskSystemColumns:
		s.Tasks.SystemColumns = &p
	case TaskTableOrdering:
		s.Tasks.Ordering = &p
	case TaskTableFiltering:
		s.Tasks.Filtering = &p
	case TaskColumnSummary:
		if s.validColumn(columnID) {
			s.Tasks.ColumnSummaries[columnID] = &p
		}
	case TaskFilteredColumnSummary:
		if s.validColumn(columnID) {
			s.Tasks.FilteredColumnSummaries[columnID] = &p
		}
	}
}

// destroyComputation releases every frame of a record, column summaries first
// and the primary data frame last, then ends the record's lifetime.
func destroyComputation(st *TableComputationState) {
	destroyColumnSummaries(st.ColumnSummaries)
	destroyColumnSummaries(st.FilteredColumnSummaries)
	if st.FilterTable != nil {
		destroyFrame(st.FilterTable.DataFrame)
	}
	destroyTableSummary(st.TableSummary)
	destroyFrame(st.DataFrame)
	if st.cancel != nil {
		st.cancel()
	}
}

func destroyColumnSummaries(summaries []ColumnSummary) {
	for _, cs := range summaries {
		destroyColumnSummary(cs)
	}
}

func destroyColumnSummary(cs ColumnSummary) {
	if cs == nil {
		return
	}
	destroyFrame(cs.Frame())
}

func destroyTableSummary(ts *TableSummary) {
	if ts == nil {
		return
	}
	destroyFrame(ts.DataFrame)
}

// retireFrame destroys the previous frame unless it is being installed again.
func retireFrame(prev, next port.DataFrame) {
	if prev != nil && prev != next {
		prev.Destroy()
	}
}

func destroyFrame(df port.DataFrame) {
	if df != nil {
		df.Destroy()
	}
}
