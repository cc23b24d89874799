package telemetry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusTracer exports span durations and counters through a
// prometheus.Registerer. Span start/end is tracked in-memory only to derive
// the duration histogram; no trace storage or export protocol is implemented.
type PrometheusTracer struct {
	mu         sync.Mutex
	durations  *prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	registerer prometheus.Registerer
}

// NewPrometheusTracer registers its collectors against reg and returns a Tracer.
func NewPrometheusTracer(reg prometheus.Registerer) *PrometheusTracer {
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardloop",
		Name:      "span_duration_seconds",
		Help:      "Duration of instrumented pipeline stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"span"})
	reg.MustRegister(durations)

	return &PrometheusTracer{
		durations:  durations,
		gauges:     make(map[string]*prometheus.GaugeVec),
		registerer: reg,
	}
}

func (t *PrometheusTracer) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	return (&NoOpTracer{}).StartSpan(ctx, name)
}

func (t *PrometheusTracer) EndSpan(span *Span) {
	(&NoOpTracer{}).EndSpan(span)
	t.durations.WithLabelValues(span.Name).Observe(span.Duration.Seconds())
}

func (t *PrometheusTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	labelNames := make([]string, 0, len(labels))
	labelValues := make(map[string]string, len(labels))
	for k, v := range labels {
		labelNames = append(labelNames, k)
		labelValues[k] = v
	}

	gauge, ok := t.gauges[name]
	if !ok {
		gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "guardloop",
			Name:      name,
			Help:      "GuardLoop runtime metric.",
		}, labelNames)
		t.registerer.MustRegister(gauge)
		t.gauges[name] = gauge
	}
	gauge.With(labelValues).Set(value)
}

var _ Tracer = (*PrometheusTracer)(nil)
