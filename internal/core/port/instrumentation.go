package port

import "context"

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordQueryDuration(ctx context.Context, ms float64)
	RecordTaskDuration(ctx context.Context, task string, ms float64)
	IncrementTaskErrors(ctx context.Context, task string)
	RecordToolDuration(ctx context.Context, ms float64)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordQueryDuration(context.Context, float64)        {}
func (NoopInstrumentation) RecordTaskDuration(context.Context, string, float64) {}
func (NoopInstrumentation) IncrementTaskErrors(context.Context, string)         {}
func (NoopInstrumentation) RecordToolDuration(context.Context, float64)         {}
