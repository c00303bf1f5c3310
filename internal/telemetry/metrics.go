package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName scopes the tracer and meter of this module.
const InstrumentationName = "github.com/ankoh/dashql-compute"

// Instruments holds pre-created OTel metric instruments. It implements
// port.Instrumentation.
type Instruments struct {
	QueryDuration metric.Float64Histogram
	TaskCount     metric.Int64Counter
	TaskDuration  metric.Float64Histogram
	TaskErrors    metric.Int64Counter
	ToolDuration  metric.Float64Histogram
}

// NewInstruments creates metric instruments from the global MeterProvider.
func NewInstruments() *Instruments {
	return newInstrumentsFromMeter(otel.Meter(InstrumentationName))
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	return newInstrumentsFromMeter(noop.NewMeterProvider().Meter(InstrumentationName))
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	queryDuration, _ := meter.Float64Histogram("dashql.query.duration",
		metric.WithDescription("Duration of source queries that produce result tables"),
		metric.WithUnit("ms"),
	)
	taskCount, _ := meter.Int64Counter("dashql.task.count",
		metric.WithDescription("Total number of finished computation tasks"),
	)
	taskDuration, _ := meter.Float64Histogram("dashql.task.duration",
		metric.WithDescription("Computation task duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	taskErrors, _ := meter.Int64Counter("dashql.task.errors",
		metric.WithDescription("Total number of failed computation tasks"),
	)
	toolDuration, _ := meter.Float64Histogram("dashql.tool.duration",
		metric.WithDescription("MCP tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		QueryDuration: queryDuration,
		TaskCount:     taskCount,
		TaskDuration:  taskDuration,
		TaskErrors:    taskErrors,
		ToolDuration:  toolDuration,
	}
}

func (i *Instruments) RecordQueryDuration(ctx context.Context, ms float64) {
	i.QueryDuration.Record(ctx, ms)
}

func (i *Instruments) RecordTaskDuration(ctx context.Context, task string, ms float64) {
	opt := metric.WithAttributes(attribute.String("dashql.task", task))
	i.TaskCount.Add(ctx, 1, opt)
	i.TaskDuration.Record(ctx, ms, opt)
}

func (i *Instruments) IncrementTaskErrors(ctx context.Context, task string) {
	i.TaskErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("dashql.task", task)))
}

func (i *Instruments) RecordToolDuration(ctx context.Context, ms float64) {
	i.ToolDuration.Record(ctx, ms)
}
