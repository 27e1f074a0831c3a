package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const pipelineScopeName = "github.com/perigee-sky/perigee/ingest"

// PipelineMetrics carries the ingestion pipeline's instruments. All
// methods are safe on a nil receiver and cheap no-ops when telemetry is
// disabled, so the pipeline records unconditionally.
type PipelineMetrics struct {
	tracer      trace.Tracer
	runs        metric.Int64Counter
	stageDur    metric.Float64Histogram
	fetched     metric.Int64Counter
	upserted    metric.Int64Counter
	pruned      metric.Int64Counter
	parseErrors metric.Int64Counter
}

// NewPipelineMetrics builds the pipeline instrument set.
func NewPipelineMetrics() *PipelineMetrics {
	meter := Meter(pipelineScopeName)
	m := &PipelineMetrics{tracer: Tracer(pipelineScopeName)}

	m.runs, _ = meter.Int64Counter("perigee.ingest.runs",
		metric.WithDescription("Completed ingestion runs by status"))
	m.stageDur, _ = meter.Float64Histogram("perigee.ingest.stage.duration",
		metric.WithDescription("Per-stage duration in seconds"),
		metric.WithUnit("s"))
	m.fetched, _ = meter.Int64Counter("perigee.ingest.records.fetched",
		metric.WithDescription("Records fetched from upstream feeds"))
	m.upserted, _ = meter.Int64Counter("perigee.ingest.records.upserted",
		metric.WithDescription("Rows written by bulk upserts"))
	m.pruned, _ = meter.Int64Counter("perigee.ingest.approaches.pruned",
		metric.WithDescription("Approach rows removed by pruning"))
	m.parseErrors, _ = meter.Int64Counter("perigee.ingest.parse.errors",
		metric.WithDescription("Malformed upstream records skipped"))

	return m
}

// StartRun opens the run span.
func (m *PipelineMetrics) StartRun(ctx context.Context, runID string) (context.Context, trace.Span) {
	if m == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, "ingest.run",
		trace.WithAttributes(attribute.String("run_id", runID)))
}

// StartStage opens a stage span under the run span.
func (m *PipelineMetrics) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	if m == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, "ingest.stage."+stage,
		trace.WithAttributes(attribute.String("stage", stage)))
}

// EndRun records the run outcome on the span and the run counter.
func (m *PipelineMetrics) EndRun(ctx context.Context, span trace.Span, status string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// StageDone closes a stage span and records its duration.
func (m *PipelineMetrics) StageDone(ctx context.Context, span trace.Span, stage string, seconds float64) {
	if m == nil {
		return
	}
	span.End()
	m.stageDur.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// Fetched counts upstream records by feed.
func (m *PipelineMetrics) Fetched(ctx context.Context, feed string, n int) {
	if m == nil {
		return
	}
	m.fetched.Add(ctx, int64(n), metric.WithAttributes(attribute.String("feed", feed)))
}

// Upserted counts written rows by table and kind (created/updated).
func (m *PipelineMetrics) Upserted(ctx context.Context, table, kind string, n int) {
	if m == nil {
		return
	}
	m.upserted.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("kind", kind)))
}

// Pruned counts removed approach rows by direction (past/future).
func (m *PipelineMetrics) Pruned(ctx context.Context, direction string, n int64) {
	if m == nil {
		return
	}
	m.pruned.Add(ctx, n, metric.WithAttributes(attribute.String("direction", direction)))
}

// ParseErrors counts skipped malformed records by feed.
func (m *PipelineMetrics) ParseErrors(ctx context.Context, feed string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.parseErrors.Add(ctx, int64(n), metric.WithAttributes(attribute.String("feed", feed)))
}
