package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mock DataFrame ---

type destroyLog struct {
	mu    sync.Mutex
	names []string
}

func (l *destroyLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *destroyLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type mockFrame struct {
	name      string
	log       *destroyLog
	mu        sync.Mutex
	destroyed int
}

func newMockFrame(name string, log *destroyLog) *mockFrame {
	return &mockFrame{name: name, log: log}
}

func (f *mockFrame) Transform(context.Context, *domain.Transform, ...port.DataFrame) (port.DataFrame, error) {
	return nil, errors.New("mock frame cannot transform")
}

func (f *mockFrame) ReadTable(context.Context) (arrow.Record, error) {
	return nil, errors.New("mock frame cannot read")
}

func (f *mockFrame) Destroy() {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	if f.log != nil {
		f.log.add(f.name)
	}
}

func (f *mockFrame) destroys() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func testColumns() []domain.ColumnGroup {
	return domain.ClassifyColumns(arrow.NewSchema([]arrow.Field{
		{Name: "age", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "city", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil))
}

func summaryWithFrame(df port.DataFrame) ColumnSummary {
	return &StringColumnSummary{DataFrame: df}
}

// registered returns a store holding computation 1 at the returned epoch.
func registered(t *testing.T, cancel context.CancelFunc) (*Store, uint64) {
	t.Helper()
	s := NewStore(testLogger())
	epoch := s.NextEpoch()
	s.Dispatch(ComputationFromQueryResult{ComputationID: 1, Epoch: epoch, Columns: testColumns(), Cancel: cancel})
	return s, epoch
}

// --- tests ---

func TestStore_DeleteDestroysEveryFrameOnceInOrder(t *testing.T) {
	t.Parallel()
	log := &destroyLog{}
	cancelled := false
	s, epoch := registered(t, func() { cancelled = true })

	data := newMockFrame("data", log)
	tableSummary := newMockFrame("table_summary", log)
	column := newMockFrame("column", log)
	filter := newMockFrame("filter", log)
	filtered := newMockFrame("filtered", log)

	s.Dispatch(CreatedDataFrame{ComputationID: 1, Epoch: epoch, DataFrame: data})
	s.Dispatch(TableSummarySucceeded{ComputationID: 1, Epoch: epoch, Summary: &TableSummary{DataFrame: tableSummary}, Columns: testColumns()})
	s.Dispatch(ColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 1, Summary: summaryWithFrame(column)})
	s.Dispatch(TableFilteringSucceeded{ComputationID: 1, Epoch: epoch, Filter: &FilterTable{DataFrame: filter, Epoch: 7}})
	s.Dispatch(FilteredColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 1, FilterEpoch: 7, Summary: summaryWithFrame(filtered)})
	assert.Empty(t, log.list())

	s.Dispatch(DeleteComputation{ComputationID: 1})
	assert.Equal(t, []string{"column", "filtered", "filter", "table_summary", "data"}, log.list())
	assert.True(t, cancelled)
	assert.Equal(t, 0, s.Len())

	// Deleting again is a no-op.
	s.Dispatch(DeleteComputation{ComputationID: 1})
	for _, f := range []*mockFrame{data, tableSummary, column, filter, filtered} {
		assert.Equal(t, 1, f.destroys(), f.name)
	}
}

func TestStore_InstallThenDestroyPrevious(t *testing.T) {
	t.Parallel()
	s, epoch := registered(t, nil)
	first := newMockFrame("first", nil)
	second := newMockFrame("second", nil)

	s.Dispatch(CreatedDataFrame{ComputationID: 1, Epoch: epoch, DataFrame: first})
	before, ok := s.Computation(1)
	require.True(t, ok)

	constraints := []domain.OrderByConstraint{{FieldName: "age", Ascending: true}}
	s.Dispatch(TableOrderingSucceeded{ComputationID: 1, Epoch: epoch, Table: &OrderedTable{Constraints: constraints, DataFrame: second}})

	after, ok := s.Computation(1)
	require.True(t, ok)
	assert.Same(t, second, after.DataFrame)
	assert.Equal(t, constraints, after.Ordering)
	assert.Greater(t, after.Version, before.Version)
	assert.Equal(t, 1, first.destroys())
	assert.Equal(t, 0, second.destroys())

	// Reinstalling the same frame does not destroy it.
	s.Dispatch(CreatedDataFrame{ComputationID: 1, Epoch: epoch, DataFrame: second})
	assert.Equal(t, 0, second.destroys())
}

func TestStore_ColumnSummaryReplacement(t *testing.T) {
	t.Parallel()
	s, epoch := registered(t, nil)
	first := newMockFrame("first", nil)
	second := newMockFrame("second", nil)

	s.Dispatch(ColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 1, Summary: summaryWithFrame(first)})
	s.Dispatch(ColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 1, Summary: summaryWithFrame(second)})

	assert.Equal(t, 1, first.destroys())
	assert.Equal(t, 0, second.destroys())

	// Summaries without a frame replace each other freely.
	s.Dispatch(ColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 1, Summary: &OrdinalColumnSummary{}})
	assert.Equal(t, 1, second.destroys())
}

func TestStore_DiscardedPayloadsAreDestroyed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		action func(epoch uint64, df port.DataFrame) Action
	}{
		{
			name: "unknown computation",
			action: func(epoch uint64, df port.DataFrame) Action {
				return CreatedDataFrame{ComputationID: 42, Epoch: epoch, DataFrame: df}
			},
		},
		{
			name: "stale epoch",
			action: func(epoch uint64, df port.DataFrame) Action {
				return TableOrderingSucceeded{ComputationID: 1, Epoch: epoch - 1, Table: &OrderedTable{DataFrame: df}}
			},
		},
		{
			name: "stale table summary",
			action: func(epoch uint64, df port.DataFrame) Action {
				return TableSummarySucceeded{ComputationID: 1, Epoch: epoch + 1, Summary: &TableSummary{DataFrame: df}}
			},
		},
		{
			name: "column out of range",
			action: func(epoch uint64, df port.DataFrame) Action {
				return ColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 9, Summary: summaryWithFrame(df)}
			},
		},
		{
			name: "filtered summary without filter",
			action: func(epoch uint64, df port.DataFrame) Action {
				return FilteredColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 0, Summary: summaryWithFrame(df)}
			},
		},
		{
			name: "system columns of unknown computation",
			action: func(epoch uint64, df port.DataFrame) Action {
				return SystemColumnsSucceeded{ComputationID: 2, Epoch: epoch, Result: &SystemColumns{DataFrame: df}}
			},
		},
		{
			name: "filter of unknown computation",
			action: func(epoch uint64, df port.DataFrame) Action {
				return TableFilteringSucceeded{ComputationID: 2, Epoch: epoch, Filter: &FilterTable{DataFrame: df}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, epoch := registered(t, nil)
			df := newMockFrame("payload", nil)

			s.Dispatch(tt.action(epoch, df))

			assert.Equal(t, 1, df.destroys())
			st, ok := s.Computation(1)
			require.True(t, ok)
			assert.Zero(t, st.Version)
		})
	}
}

func TestStore_FilterChanges(t *testing.T) {
	t.Parallel()
	s, epoch := registered(t, nil)
	firstFilter := newMockFrame("first_filter", nil)
	secondFilter := newMockFrame("second_filter", nil)
	filtered := newMockFrame("filtered", nil)
	late := newMockFrame("late", nil)

	s.Dispatch(TableFilteringSucceeded{ComputationID: 1, Epoch: epoch, Filter: &FilterTable{DataFrame: firstFilter, Epoch: 10}})
	s.Dispatch(FilteredColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 0, FilterEpoch: 10, Summary: summaryWithFrame(filtered)})

	s.Dispatch(TableFilteringSucceeded{ComputationID: 1, Epoch: epoch, Filter: &FilterTable{DataFrame: secondFilter, Epoch: 11}})
	assert.Equal(t, 1, firstFilter.destroys())
	assert.Equal(t, 1, filtered.destroys())

	st, _ := s.Computation(1)
	assert.Nil(t, st.FilteredColumnSummaries[0])
	assert.Len(t, st.FilteredColumnSummaries, len(st.ColumnGroups))

	// A summary computed under the replaced filter is discarded.
	s.Dispatch(FilteredColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 0, FilterEpoch: 10, Summary: summaryWithFrame(late)})
	assert.Equal(t, 1, late.destroys())

	// A nil filter clears the installed one.
	s.Dispatch(TableFilteringSucceeded{ComputationID: 1, Epoch: epoch})
	assert.Equal(t, 1, secondFilter.destroys())
	st, _ = s.Computation(1)
	assert.Nil(t, st.FilterTable)
}

func TestStore_SystemColumnsResizeColumns(t *testing.T) {
	t.Parallel()
	s, epoch := registered(t, nil)
	data := newMockFrame("data", nil)
	system := newMockFrame("system", nil)
	column := newMockFrame("column", nil)

	s.Dispatch(CreatedDataFrame{ComputationID: 1, Epoch: epoch, DataFrame: data})
	s.Dispatch(ColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 0, Summary: summaryWithFrame(column)})

	extended := append([]domain.ColumnGroup{domain.RowNumberColumn{RowNumberFieldName: "_rownum"}}, testColumns()...)
	s.Dispatch(SystemColumnsSucceeded{ComputationID: 1, Epoch: epoch, Result: &SystemColumns{
		DataFrame:          system,
		Columns:            extended,
		RowNumberFieldName: "_rownum",
	}})

	assert.Equal(t, 1, data.destroys())
	assert.Equal(t, 1, column.destroys())
	assert.Equal(t, 0, system.destroys())

	st, _ := s.Computation(1)
	assert.Same(t, system, st.DataFrame)
	assert.Equal(t, "_rownum", st.RowNumberFieldName)
	assert.Len(t, st.ColumnGroups, 3)
	assert.Len(t, st.ColumnSummaries, 3)
	assert.Len(t, st.FilteredColumnSummaries, 3)
	assert.Len(t, st.Tasks.ColumnSummaries, 3)
	assert.Len(t, st.Tasks.FilteredColumnSummaries, 3)
}

func TestStore_ReRegistrationRetiresPreviousRecord(t *testing.T) {
	t.Parallel()
	cancelled := false
	s, epoch := registered(t, func() { cancelled = true })
	data := newMockFrame("data", nil)
	s.Dispatch(CreatedDataFrame{ComputationID: 1, Epoch: epoch, DataFrame: data})

	next := s.NextEpoch()
	s.Dispatch(ComputationFromQueryResult{ComputationID: 1, Epoch: next, Columns: testColumns()})

	assert.Equal(t, 1, data.destroys())
	assert.True(t, cancelled)
	st, ok := s.Computation(1)
	require.True(t, ok)
	assert.Equal(t, next, st.Epoch)
	assert.Nil(t, st.DataFrame)
}

func TestStore_RunningAndFailedOnlyTouchProgress(t *testing.T) {
	t.Parallel()
	s, epoch := registered(t, nil)
	data := newMockFrame("data", nil)
	s.Dispatch(CreatedDataFrame{ComputationID: 1, Epoch: epoch, DataFrame: data})
	before, _ := s.Computation(1)

	running := domain.StartTask(time.Unix(100, 0))
	s.Dispatch(TaskRunning{ComputationID: 1, Epoch: epoch, Task: TaskTableOrdering, ColumnID: -1, Progress: running})
	s.Dispatch(TaskRunning{ComputationID: 1, Epoch: epoch, Task: TaskColumnSummary, ColumnID: 1, Progress: running})
	failed := running.Fail(running.StartedAt, errors.New("boom"))
	s.Dispatch(TaskFailed{ComputationID: 1, Epoch: epoch, Task: TaskTableOrdering, ColumnID: -1, Progress: failed})

	after, _ := s.Computation(1)
	assert.Equal(t, before.Version, after.Version)
	assert.Same(t, data, after.DataFrame)
	require.NotNil(t, after.Tasks.Ordering)
	assert.Equal(t, domain.TaskFailed, after.Tasks.Ordering.Status)
	require.NotNil(t, after.Tasks.ColumnSummaries[1])
	assert.Equal(t, domain.TaskRunning, after.Tasks.ColumnSummaries[1].Status)
	assert.Equal(t, 0, data.destroys())
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	t.Parallel()
	s, epoch := registered(t, nil)
	snapshot, _ := s.Computation(1)
	snapshot.ColumnSummaries[0] = summaryWithFrame(newMockFrame("foreign", nil))

	s.Dispatch(ColumnSummarySucceeded{ComputationID: 1, Epoch: epoch, ColumnID: 1, Summary: &OrdinalColumnSummary{}})
	st, _ := s.Computation(1)
	assert.Nil(t, st.ColumnSummaries[0])
}

func TestStore_Close(t *testing.T) {
	t.Parallel()
	s := NewStore(testLogger())
	frames := make([]*mockFrame, 3)
	for i := range frames {
		epoch := s.NextEpoch()
		frames[i] = newMockFrame("data", nil)
		s.Dispatch(ComputationFromQueryResult{ComputationID: i, Epoch: epoch, Columns: testColumns()})
		s.Dispatch(CreatedDataFrame{ComputationID: i, Epoch: epoch, DataFrame: frames[i]})
	}
	require.Equal(t, 3, s.Len())

	s.Close()
	assert.Equal(t, 0, s.Len())
	for _, f := range frames {
		assert.Equal(t, 1, f.destroys())
	}
}

func TestStore_NextEpochIsUnique(t *testing.T) {
	t.Parallel()
	s := NewStore(testLogger())

	var (
		mu   sync.Mutex
		seen = make(map[uint64]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e := s.NextEpoch()
				mu.Lock()
				seen[e] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}
