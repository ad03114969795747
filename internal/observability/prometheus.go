package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "imagingqc"

// PrometheusRecorder exports per-operation latency and outcome counts.
type PrometheusRecorder struct {
	durations *prometheus.HistogramVec
	totals    *prometheus.CounterVec
}

// NewPrometheusRecorder registers the operation collectors on reg. A nil
// registerer uses prometheus.DefaultRegisterer.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of import-file operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		totals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Completed import-file operations by outcome.",
		}, []string{"operation", "status"}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.totals} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.totals.WithLabelValues(operation, Status(success)).Inc()
}
