// Package telemetry provides a minimal span/metric tracer used across the
// daemon so every subsystem records timing the same way, without pulling in
// a concrete backend. Callers inject a Tracer; production wiring can export
// to Prometheus, dev builds can use the no-op.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Span represents one traced operation.
type Span struct {
	TraceID    string
	SpanID     string
	ParentID   string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Attributes map[string]any
}

// SetAttribute records a key/value on the span.
func (s *Span) SetAttribute(key string, value any) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes[key] = value
}

// RecordError marks the span as having failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.SetAttribute("error", err.Error())
}

// Tracer instruments pipeline stages with spans and counters.
//
// Thread-safe: all methods may be called concurrently.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, *Span)
	EndSpan(span *Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

type spanContextKey struct{}

// SpanFromContext retrieves the active span, if any.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey{}).(*Span); ok {
		return span
	}
	return nil
}

// NoOpTracer discards everything; used in tests and when metrics are disabled.
type NoOpTracer struct{}

// NewNoOpTracer constructs a NoOpTracer.
func NewNoOpTracer() *NoOpTracer { return &NoOpTracer{} }

func (t *NoOpTracer) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{
		TraceID:   uuid.New().String(),
		SpanID:    uuid.New().String(),
		Name:      name,
		StartTime: time.Now(),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}
	return context.WithValue(ctx, spanContextKey{}, span), span
}

func (t *NoOpTracer) EndSpan(span *Span) {
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
}

func (t *NoOpTracer) RecordMetric(name string, value float64, labels map[string]string) {}

var _ Tracer = (*NoOpTracer)(nil)
