// Package metrics holds the Prometheus collectors updated by expression
// evaluation. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	arrayMapEvaluations prometheus.Counter
	constFastPath       prometheus.Counter
	flattenedElements   prometheus.Counter
	bodySkipped         prometheus.Counter

	evaluateSeconds *prometheus.HistogramVec
	chunksTotal     *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		arrayMapEvaluations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "opti_lambda_array_map_evaluations_total",
			Help: "Total number of array_map nodes evaluated over a chunk",
		}),
		constFastPath: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "opti_lambda_array_map_const_fast_path_total",
			Help: "Total number of array_map evaluations answered by the constant fast path",
		}),
		flattenedElements: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "opti_lambda_array_map_flattened_elements_total",
			Help: "Total number of array elements the lambda body was evaluated over",
		}),
		bodySkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "opti_lambda_array_map_body_skipped_total",
			Help: "Total number of array_map evaluations whose flattened chunk was empty",
		}),
		evaluateSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opti_lambda_expr_evaluate_duration_seconds",
			Help:    "Time spent evaluating an expression root over one chunk",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"status"}),
		chunksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opti_lambda_project_chunks_total",
			Help: "Total number of chunks processed by projection workers",
		}, []string{"status"}),
	}
}

func (m *Metrics) ArrayMapEvaluated(elements int, constFastPath bool) {
	if m == nil {
		return
	}
	m.arrayMapEvaluations.Inc()
	m.flattenedElements.Add(float64(elements))
	if constFastPath {
		m.constFastPath.Inc()
	}
	if elements == 0 {
		m.bodySkipped.Inc()
	}
}

func (m *Metrics) ObserveEvaluate(start time.Time, err error) {
	if m == nil {
		return
	}
	m.evaluateSeconds.WithLabelValues(status(err)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ChunkProcessed(err error) {
	if m == nil {
		return
	}
	m.chunksTotal.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
