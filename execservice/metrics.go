package execservice

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "runbox"

// Metrics holds the execution collectors
type Metrics struct {
	registry   *prometheus.Registry
	executions *prometheus.CounterVec
	duration   prometheus.Histogram
	inFlight   prometheus.Gauge
}

// NewMetrics registers the execution collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_total",
			Help:      "Sandboxed executions by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock time of sandboxed executions, including runtime start and teardown.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "executions_in_flight",
			Help:      "Isolated runtimes currently running.",
		}),
	}

	m.registry.MustRegister(
		m.executions,
		m.duration,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) started() {
	m.inFlight.Inc()
}

func (m *Metrics) finished(outcome string, elapsed time.Duration) {
	m.inFlight.Dec()
	m.executions.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}
