package interpdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector receives database events.
type MetricsCollector interface {
	RecordInterpolate(hit bool, path Path, candidates int)
	RecordInsert(action Action)
	RecordBuildFailure()
	SetModels(n int)
}

// NoopMetricsCollector discards all events.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInterpolate(bool, Path, int) {}
func (NoopMetricsCollector) RecordInsert(Action)               {}
func (NoopMetricsCollector) RecordBuildFailure()               {}
func (NoopMetricsCollector) SetModels(int)                     {}

// PrometheusCollector exports database events as Prometheus metrics.
type PrometheusCollector struct {
	interpolations *prometheus.CounterVec
	inserts        *prometheus.CounterVec
	buildFailures  prometheus.Counter
	candidates     prometheus.Histogram
	models         prometheus.Gauge
}

// NewPrometheusCollector registers the cache metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		interpolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "krigcache_interpolate_total",
			Help: "Interpolation queries by outcome",
		}, []string{"result"}),
		inserts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "krigcache_insert_total",
			Help: "Inserted samples by how they were absorbed",
		}, []string{"action"}),
		buildFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "krigcache_build_failures_total",
			Help: "Kriging builds that failed",
		}),
		candidates: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "krigcache_candidates_tested",
			Help:    "Candidate models tested per query",
			Buckets: prometheus.ExponentialBuckets(1, 2, 6),
		}),
		models: factory.NewGauge(prometheus.GaugeOpts{
			Name: "krigcache_models",
			Help: "Number of local models in the database",
		}),
	}
}

func (p *PrometheusCollector) RecordInterpolate(hit bool, path Path, candidates int) {
	result := "miss"
	if hit {
		result = path.String()
	}
	p.interpolations.WithLabelValues(result).Inc()
	p.candidates.Observe(float64(candidates))
}

func (p *PrometheusCollector) RecordInsert(action Action) {
	p.inserts.WithLabelValues(action.String()).Inc()
}

func (p *PrometheusCollector) RecordBuildFailure() { p.buildFailures.Inc() }

func (p *PrometheusCollector) SetModels(n int) { p.models.Set(float64(n)) }
