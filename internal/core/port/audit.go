package port

import "context"

// TaskEvent is a terminal task outcome written to the task journal.
type TaskEvent struct {
	ComputationID int
	ColumnID      int // -1 for table-level tasks
	Task          string
	Status        string
	DurationMS    int64
	Err           error
}

// TaskJournal records task outcomes.
type TaskJournal interface {
	Record(ctx context.Context, event TaskEvent)
	Close() error
}

// NoopTaskJournal discards all task events.
type NoopTaskJournal struct{}

func (NoopTaskJournal) Record(context.Context, TaskEvent) {}
func (NoopTaskJournal) Close() error                      { return nil }
