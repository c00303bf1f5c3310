package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ankoh/dashql-compute/internal/core/port"
)

// fileEntry is the NDJSON-serializable form of a task event.
type fileEntry struct {
	Timestamp     string  `json:"ts"`
	ComputationID int     `json:"computation_id"`
	ColumnID      *int    `json:"column_id,omitempty"`
	Task          string  `json:"task"`
	Status        string  `json:"status"`
	DurationMS    int64   `json:"duration_ms"`
	Error         *string `json:"error"`
}

// FileJournal writes task events as NDJSON (one JSON object per line) to a file.
type FileJournal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileJournal opens (or creates) the file at path for append-only writing.
func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

func (j *FileJournal) Record(_ context.Context, event port.TaskEvent) {
	fe := fileEntry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		ComputationID: event.ComputationID,
		Task:          event.Task,
		Status:        event.Status,
		DurationMS:    event.DurationMS,
	}
	if event.ColumnID >= 0 {
		id := event.ColumnID
		fe.ColumnID = &id
	}
	if event.Err != nil {
		s := event.Err.Error()
		fe.Error = &s
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(fe) // best-effort; a journal write never fails a task
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
