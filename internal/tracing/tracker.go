// Package tracing opens a span for every handler invocation and persists a
// matching correlation record so an invocation can be followed from the
// audit trail to the trace backend.
package tracing

import (
	"context"
	"fmt"
	"time"

	"actcore/internal/logging"
	"actcore/internal/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "actcore/handlers"

// CorrelationStore is the subset of persistence the tracker writes to.
type CorrelationStore interface {
	AddCorrelation(ctx context.Context, c *types.Correlation) error
	UpdateCorrelation(ctx context.Context, correlationID string, update types.CorrelationUpdate) error
}

// Tracker starts handler spans. A nil store keeps spans in otel only.
type Tracker struct {
	store  CorrelationStore
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Tracker) { t.tracer = tp.Tracer(instrumentationName) }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker writing correlations to store.
func NewTracker(store CorrelationStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Span is one in-flight handler invocation.
type Span struct {
	tracker *Tracker
	ctx     context.Context
	span    trace.Span
	record  types.Correlation
	stored  bool
	ended   bool
}

// Start opens a span for handler acting on thoughtID. The returned context
// carries the span.
func (t *Tracker) Start(ctx context.Context, taskID, thoughtID, handler string, action types.ActionType) (context.Context, *Span) {
	ctx, span := t.tracer.Start(ctx, "handler."+handler, trace.WithAttributes(
		attribute.String("handler.name", handler),
		attribute.String("task.id", taskID),
		attribute.String("thought.id", thoughtID),
		attribute.String("action.type", string(action)),
	))

	rec := types.Correlation{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		ThoughtID:  thoughtID,
		Handler:    handler,
		ActionType: string(action),
		TraceID:    fmt.Sprintf("task_%s_%s", taskID, thoughtID),
		SpanID:     fmt.Sprintf("%s_%s", handler, thoughtID),
		Status:     types.CorrelationPending,
		StartedAt:  t.now(),
	}
	if sc := span.SpanContext(); sc.IsValid() {
		rec.TraceID = sc.TraceID().String()
		rec.SpanID = sc.SpanID().String()
	}

	s := &Span{tracker: t, ctx: context.WithoutCancel(ctx), span: span, record: rec}
	if t.store != nil {
		if err := t.store.AddCorrelation(s.ctx, &s.record); err != nil {
			logging.Get(logging.CategoryTracing).Warn("Failed to persist correlation for %s/%s: %v", handler, thoughtID, err)
		} else {
			s.stored = true
		}
	}
	return ctx, s
}

// CorrelationID returns the persisted record id.
func (s *Span) CorrelationID() string {
	return s.record.ID
}

// TraceID returns the trace id recorded for this invocation.
func (s *Span) TraceID() string {
	return s.record.TraceID
}

// End closes the span. A nil err marks success. Calling End twice is a no-op.
func (s *Span) End(err error) {
	if s == nil || s.ended {
		return
	}
	s.ended = true

	ended := s.tracker.now()
	update := types.CorrelationUpdate{
		Status:     types.CorrelationCompleted,
		EndedAt:    ended,
		DurationMS: ended.Sub(s.record.StartedAt).Milliseconds(),
	}
	if err != nil {
		update.Status = types.CorrelationFailed
		update.Error = err.Error()
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.SetAttributes(attribute.Int64("duration_ms", update.DurationMS))
	s.span.End()

	if s.stored {
		if uerr := s.tracker.store.UpdateCorrelation(s.ctx, s.record.ID, update); uerr != nil {
			logging.Get(logging.CategoryTracing).Warn("Failed to close correlation %s: %v", s.record.ID, uerr)
		}
	}
}
