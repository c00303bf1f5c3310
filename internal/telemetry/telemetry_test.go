package telemetry

import (
	"context"
	"testing"

	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var _ port.Instrumentation = (*Instruments)(nil)

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()
	assert.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "test")
	assert.NotNil(t, span)
	span.End()
}

func TestNoopInstruments(t *testing.T) {
	inst := NoopInstruments()
	require.NotNil(t, inst)
	assert.NotNil(t, inst.QueryDuration)
	assert.NotNil(t, inst.TaskDuration)
	assert.NotNil(t, inst.TaskErrors)

	// Should not panic.
	inst.RecordTaskDuration(context.Background(), "table_summary", 12)
	inst.IncrementTaskErrors(context.Background(), "table_summary")
	inst.RecordQueryDuration(context.Background(), 100.0)
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	var p *Provider
	err := p.Shutdown(context.Background())
	assert.NoError(t, err)
}

func TestSpanRecording(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	ctx := context.Background()
	_, span := tracer.Start(ctx, "Runner.table_summary")
	span.SetAttributes(attribute.Int("dashql.computation.id", 1))
	span.End()

	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Runner.table_summary", spans[0].Name)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestInstruments_TaskMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst := newInstrumentsFromMeter(mp.Meter("test"))
	ctx := context.Background()

	inst.RecordTaskDuration(ctx, "column_summary", 5)
	inst.RecordTaskDuration(ctx, "column_summary", 7)
	inst.RecordTaskDuration(ctx, "table_summary", 3)
	inst.IncrementTaskErrors(ctx, "table_ordering")

	metrics := collect(t, reader)

	count, ok := metrics["dashql.task.count"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	perTask := make(map[string]int64)
	for _, dp := range count.DataPoints {
		task, _ := dp.Attributes.Value("dashql.task")
		perTask[task.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"column_summary": 2, "table_summary": 1}, perTask)

	duration, ok := metrics["dashql.task.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, duration.DataPoints, 2)

	errs, ok := metrics["dashql.task.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)
}
