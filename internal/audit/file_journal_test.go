package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []fileEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	var entries []fileEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry fileEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), "line %d: %s", len(entries)+1, scanner.Text())
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestNewFileJournal_CreatesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tasks.ndjson")
	j, err := NewFileJournal(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, j.Close()) }()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestNewFileJournal_InvalidPath(t *testing.T) {
	t.Parallel()
	_, err := NewFileJournal("/nonexistent/dir/tasks.ndjson")
	require.Error(t, err)
}

func TestFileJournal_Record(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		event      port.TaskEvent
		wantColumn *int
		wantErr    *string
	}{
		{
			name:  "table task",
			event: port.TaskEvent{ComputationID: 3, ColumnID: -1, Task: "table_summary", Status: "succeeded", DurationMS: 42},
		},
		{
			name:       "column task",
			event:      port.TaskEvent{ComputationID: 3, ColumnID: 0, Task: "column_summary", Status: "succeeded", DurationMS: 7},
			wantColumn: new(int),
		},
		{
			name:    "failed task",
			event:   port.TaskEvent{ComputationID: 4, ColumnID: -1, Task: "table_ordering", Status: "failed", Err: fmt.Errorf("unknown field")},
			wantErr: func() *string { s := "unknown field"; return &s }(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "tasks.ndjson")
			j, err := NewFileJournal(path)
			require.NoError(t, err)

			j.Record(context.Background(), tt.event)
			require.NoError(t, j.Close())

			entries := readEntries(t, path)
			require.Len(t, entries, 1)
			entry := entries[0]
			assert.Equal(t, tt.event.ComputationID, entry.ComputationID)
			assert.Equal(t, tt.event.Task, entry.Task)
			assert.Equal(t, tt.event.Status, entry.Status)
			assert.Equal(t, tt.event.DurationMS, entry.DurationMS)
			assert.Equal(t, tt.wantColumn, entry.ColumnID)
			assert.Equal(t, tt.wantErr, entry.Error)
			assert.NotEmpty(t, entry.Timestamp)
		})
	}
}

func TestFileJournal_ConcurrentWrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tasks.ndjson")
	j, err := NewFileJournal(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			j.Record(context.Background(), port.TaskEvent{ComputationID: 1, ColumnID: n, Task: "column_summary", Status: "succeeded"})
		}(i)
	}
	wg.Wait()
	require.NoError(t, j.Close())

	assert.Len(t, readEntries(t, path), 50)
}

func TestFileJournal_Append(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tasks.ndjson")

	j1, err := NewFileJournal(path)
	require.NoError(t, err)
	j1.Record(context.Background(), port.TaskEvent{ComputationID: 1, ColumnID: -1, Task: "table_summary", Status: "succeeded"})
	require.NoError(t, j1.Close())

	j2, err := NewFileJournal(path)
	require.NoError(t, err)
	j2.Record(context.Background(), port.TaskEvent{ComputationID: 2, ColumnID: -1, Task: "table_summary", Status: "succeeded"})
	require.NoError(t, j2.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[1].ComputationID)
}

func TestNoopTaskJournal(t *testing.T) {
	t.Parallel()
	j := port.NoopTaskJournal{}
	j.Record(context.Background(), port.TaskEvent{Task: "table_summary"})
	assert.NoError(t, j.Close())
}
