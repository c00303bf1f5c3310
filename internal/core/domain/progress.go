package domain

import "time"

// TaskStatus is the lifecycle state of a computation task.
type TaskStatus int

const (
	TaskRunning TaskStatus = iota
	TaskSucceeded
	TaskFailed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskProgress tracks one task invocation. Terminal progress values are never
// modified; Succeed and Fail return new values.
type TaskProgress struct {
	Status      TaskStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	Err         error
}

// StartTask returns the progress of a task that started at now.
func StartTask(now time.Time) TaskProgress {
	return TaskProgress{Status: TaskRunning, StartedAt: now}
}

func (p TaskProgress) Succeed(now time.Time) TaskProgress {
	return TaskProgress{Status: TaskSucceeded, StartedAt: p.StartedAt, CompletedAt: &now}
}

func (p TaskProgress) Fail(now time.Time, err error) TaskProgress {
	return TaskProgress{Status: TaskFailed, StartedAt: p.StartedAt, FailedAt: &now, Err: err}
}

// Terminal reports whether the task finished.
func (p TaskProgress) Terminal() bool {
	return p.Status == TaskSucceeded || p.Status == TaskFailed
}

// Duration is the elapsed time of a terminal task, or zero while running.
func (p TaskProgress) Duration() time.Duration {
	switch {
	case p.CompletedAt != nil:
		return p.CompletedAt.Sub(p.StartedAt)
	case p.FailedAt != nil:
		return p.FailedAt.Sub(p.StartedAt)
	default:
		return 0
	}
}
