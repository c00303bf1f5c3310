package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/ankoh/dashql-compute/internal/adapter/arrowengine"
	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock ResultSource ---

type mockSource struct {
	queryCalled bool
	lastSQL     string
	result      func() arrow.Record
	err         error
}

func (m *mockSource) Query(_ context.Context, sql string) (arrow.Record, error) {
	m.queryCalled = true
	m.lastSQL = sql
	if m.err != nil {
		return nil, m.err
	}
	return m.result(), nil
}

type serviceFixture struct {
	engine *arrowengine.Engine
	store  *Store
	source *mockSource
	svc    *AnalysisService
}

func newServiceFixture(source *mockSource, masks map[string]domain.MaskType) *serviceFixture {
	engine := arrowengine.New(testLogger())
	store := NewStore(testLogger())
	runner := NewRunner(store, engine, testLogger())
	return &serviceFixture{
		engine: engine,
		store:  store,
		source: source,
		svc:    NewAnalysisService(domain.NewPgQueryValidator(), source, store, runner, testLogger(), masks, nil, nil),
	}
}

func (f *serviceFixture) assertReleased(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, f.store.Len())
	stats := f.engine.Stats()
	assert.Equal(t, 0, stats.Live)
	assert.Equal(t, 0, stats.DoubleDestroys)
}

// --- tests ---

func TestAnalysisService_Analyze(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(&mockSource{result: peopleRecord}, nil)

	report, err := f.svc.Analyze(context.Background(), AnalyzeRequest{SQL: "SELECT age, city FROM people"})
	require.NoError(t, err)
	assert.True(t, f.source.queryCalled)
	assert.Equal(t, "SELECT age, city FROM people", f.source.lastSQL)

	assert.Equal(t, int64(6), report.Rows)
	assert.Nil(t, report.FilteredRows)
	require.Len(t, report.Columns, 2)

	age := report.Columns[0]
	assert.Equal(t, "age", age.Name)
	assert.Equal(t, domain.ColumnKindOrdinal, age.Kind)
	assert.Equal(t, "int32", age.Type)
	require.NotNil(t, age.Ordinal)
	assert.Equal(t, "10", age.Ordinal.MinValue)
	assert.Equal(t, "40", age.Ordinal.MaxValue)
	assert.Empty(t, age.Error)

	city := report.Columns[1]
	assert.Equal(t, domain.ColumnKindString, city.Kind)
	require.NotNil(t, city.String)
	assert.Equal(t, "b", city.String.FrequentValues[0].Label)
	assert.Equal(t, int64(3), city.String.FrequentValues[0].Count)

	f.assertReleased(t)
}

func TestAnalysisService_RejectsWrites(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
	}{
		{"insert", "INSERT INTO users (name) VALUES ('bob')"},
		{"update", "UPDATE users SET name = 'x'"},
		{"delete", "DELETE FROM users WHERE id = 1"},
		{"drop", "DROP TABLE users"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newServiceFixture(&mockSource{result: peopleRecord}, nil)

			_, err := f.svc.Analyze(context.Background(), AnalyzeRequest{SQL: tt.sql})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation")
			assert.False(t, f.source.queryCalled, "source should not be queried for rejected statements")
		})
	}
}

func TestAnalysisService_SourceError(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(&mockSource{err: fmt.Errorf("connection refused")}, nil)

	_, err := f.svc.Analyze(context.Background(), AnalyzeRequest{SQL: "SELECT 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	f.assertReleased(t)
}

func TestAnalysisService_MasksFollowAliases(t *testing.T) {
	t.Parallel()
	town := func() arrow.Record {
		schema := arrow.NewSchema([]arrow.Field{{Name: "town", Type: arrow.BinaryTypes.String, Nullable: true}}, nil)
		b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
		defer b.Release()
		b.Field(0).(*array.StringBuilder).AppendValues([]string{"x", "y", ""}, []bool{true, true, false})
		return b.NewRecord()
	}
	masks := map[string]domain.MaskType{"city": domain.MaskRedact}
	f := newServiceFixture(&mockSource{result: town}, masks)

	report, err := f.svc.Analyze(context.Background(), AnalyzeRequest{SQL: "SELECT city AS town FROM people"})
	require.NoError(t, err)
	require.Len(t, report.Columns, 1)
	require.NotNil(t, report.Columns[0].String)
	for _, v := range report.Columns[0].String.FrequentValues {
		if v.Null {
			assert.Empty(t, v.Label)
			continue
		}
		assert.Equal(t, "***", v.Label)
	}
}

func TestAnalysisService_CrossFilter(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(&mockSource{result: peopleRecord}, nil)

	report, err := f.svc.Analyze(context.Background(), AnalyzeRequest{
		SQL:     "SELECT age, city FROM people",
		Filters: map[string][2]float64{"age": {0, 5}},
	})
	require.NoError(t, err)
	require.NotNil(t, report.FilteredRows)
	assert.Equal(t, int64(2), *report.FilteredRows)

	city := report.Columns[1]
	require.NotNil(t, city.Filtered)
	require.NotNil(t, city.Filtered.String)
	require.Len(t, city.Filtered.String.FrequentValues, 2)
	assert.Equal(t, int64(1), city.Filtered.String.FrequentValues[0].Count)

	f.assertReleased(t)
}

func TestAnalysisService_CrossFilterRejectsStringColumns(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(&mockSource{result: peopleRecord}, nil)

	_, err := f.svc.Analyze(context.Background(), AnalyzeRequest{
		SQL:     "SELECT age, city FROM people",
		Filters: map[string][2]float64{"city": {0, 1}},
	})
	require.ErrorIs(t, err, domain.ErrColumnNotFilterable)
	f.assertReleased(t)
}

func TestAnalysisService_Sort(t *testing.T) {
	t.Parallel()
	masks := map[string]domain.MaskType{"city": domain.MaskPartial}
	f := newServiceFixture(&mockSource{result: peopleRecord}, masks)

	sorted, err := f.svc.Sort(context.Background(), SortRequest{
		SQL:         "SELECT age, city FROM people",
		Constraints: []domain.OrderByConstraint{{FieldName: "age", Ascending: false}},
		Limit:       3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "city"}, sorted.Columns)
	require.Len(t, sorted.Rows, 3)
	assert.Equal(t, "40", sorted.Rows[0]["age"])
	assert.Equal(t, "***c", sorted.Rows[0]["city"])
	assert.Equal(t, "30", sorted.Rows[1]["age"])
	assert.Equal(t, "20", sorted.Rows[2]["age"])
	assert.Nil(t, sorted.Rows[2]["city"])

	f.assertReleased(t)
}

func TestAnalysisService_SortUnknownField(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(&mockSource{result: peopleRecord}, nil)

	_, err := f.svc.Sort(context.Background(), SortRequest{
		SQL:         "SELECT age FROM people",
		Constraints: []domain.OrderByConstraint{{FieldName: "nope"}},
	})
	require.ErrorIs(t, err, arrowengine.ErrUnknownField)
	f.assertReleased(t)
}
