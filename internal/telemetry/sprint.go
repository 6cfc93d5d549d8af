package telemetry

import (
	"context"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const sprintScopeName = instrumentationScope + "/sprint"

// SprintInstruments traces runs and items and counts their outcomes
type SprintInstruments struct {
	tracer   trace.Tracer
	runs     metric.Int64Counter
	items    metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewSprintInstruments builds instruments from explicit providers
func NewSprintInstruments(tp trace.TracerProvider, mp metric.MeterProvider) *SprintInstruments {
	m := mp.Meter(sprintScopeName)
	runs, _ := m.Int64Counter("sprint.runs",
		metric.WithDescription("Finished sprint runs by status"),
	)
	items, _ := m.Int64Counter("sprint.items",
		metric.WithDescription("Processed work items by outcome"),
	)
	retries, _ := m.Int64Counter("sprint.retries",
		metric.WithDescription("Re-attempted workspace steps"),
	)
	duration, _ := m.Float64Histogram("sprint.item.duration",
		metric.WithDescription("Work item processing time in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &SprintInstruments{
		tracer:   tp.Tracer(sprintScopeName),
		runs:     runs,
		items:    items,
		retries:  retries,
		duration: duration,
	}
}

// DefaultSprintInstruments uses the global providers installed by Init
func DefaultSprintInstruments() *SprintInstruments {
	return NewSprintInstruments(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// StartRun opens the span covering a whole run
func (s *SprintInstruments) StartRun(ctx context.Context, runID, repo string, selected int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "sprint.run", trace.WithAttributes(
		attribute.String("sprint.run_id", runID),
		attribute.String("sprint.repo", repo),
		attribute.Int("sprint.selected", selected),
	))
}

// StartItem opens the span covering one work item
func (s *SprintInstruments) StartItem(ctx context.Context, number int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "sprint.item", trace.WithAttributes(
		attribute.Int("sprint.item", number),
	))
}

// EndItem records the item's outcome on its span and in the metrics, then ends the span
func (s *SprintInstruments) EndItem(ctx context.Context, span trace.Span, res domain.ItemResult) {
	outcome := attribute.String("sprint.outcome", string(res.Outcome))
	span.SetAttributes(outcome)
	if res.Outcome.Failed() {
		span.SetStatus(codes.Error, res.Reason)
	}
	span.End()

	s.items.Add(ctx, 1, metric.WithAttributes(outcome))
	if res.Outcome != domain.OutcomeSkipped {
		s.duration.Record(ctx, float64(res.Elapsed.Milliseconds()), metric.WithAttributes(outcome))
	}
}

// RecordRetry counts one re-attempt
func (s *SprintInstruments) RecordRetry(ctx context.Context) {
	s.retries.Add(ctx, 1)
}

// EndRun records the run's final status, then ends its span
func (s *SprintInstruments) EndRun(ctx context.Context, span trace.Span, snap domain.RunSnapshot, err error) {
	status := attribute.String("sprint.status", string(snap.Status))
	span.SetAttributes(
		status,
		attribute.Int("sprint.processed", len(snap.Processed)),
		attribute.Int("sprint.failed", len(snap.Failed)),
		attribute.Int("sprint.skipped", len(snap.Skipped)),
		attribute.Int("sprint.fetch_failed", len(snap.FetchFailed)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	s.runs.Add(ctx, 1, metric.WithAttributes(status))
}
