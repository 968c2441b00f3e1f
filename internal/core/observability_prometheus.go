package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation latency, outcome counts and the
// number of plots persisted or skipped per operation.
type PrometheusMetricsRecorder struct {
	latency *prometheus.HistogramVec
	results *prometheus.CounterVec
	plots   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the service collectors on reg. A
// nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldtrial",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldtrial",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		plots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldtrial",
			Subsystem: "service",
			Name:      "plots_total",
			Help:      "Plots persisted or skipped by imports and provisioning.",
		}, []string{"operation", "outcome"}),
	}
	for _, c := range []prometheus.Collector{rec.latency, rec.results, rec.plots} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// CountPlots implements PlotCounter.
func (r *PrometheusMetricsRecorder) CountPlots(_ context.Context, operation string, persisted, skipped int) {
	r.plots.WithLabelValues(operation, "persisted").Add(float64(persisted))
	if skipped > 0 {
		r.plots.WithLabelValues(operation, "skipped").Add(float64(skipped))
	}
}
