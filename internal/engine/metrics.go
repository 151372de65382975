package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "metacluster"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	roundsTotal     *prometheus.CounterVec
	roundDuration   prometheus.Histogram
	fallbacksTotal  *prometheus.CounterVec
	llmCallsTotal   *prometheus.CounterVec
	rootsRemaining  prometheus.Gauge
	clustersCreated prometheus.Counter
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		roundsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rounds_total",
			Help:      "Reduction rounds by outcome (validated, retried, stalled, failed)",
		}, []string{"outcome"}),
		roundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time of one reduction round attempt",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		fallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resolver_fallbacks_total",
			Help:      "Clusters assigned to the catch-all group, by reason",
		}, []string{"reason"}),
		llmCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_calls_total",
			Help:      "Generative calls by component and outcome",
		}, []string{"component", "outcome"}),
		rootsRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "roots_remaining",
			Help:      "Root clusters after the latest round",
		}),
		clustersCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "parents_created_total",
			Help:      "Parent clusters committed",
		}),
	}
}

func (m *Metrics) observeRound(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.roundsTotal.WithLabelValues(outcome).Inc()
	m.roundDuration.Observe(d.Seconds())
}

func (m *Metrics) observeFallback(reason FallbackReason) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) observeCall(component string, err error) {
	if m == nil {
		return
	}
	m.llmCallsTotal.WithLabelValues(component, callOutcome(err)).Inc()
}

func (m *Metrics) observeCommit(parents, roots int) {
	if m == nil {
		return
	}
	m.clustersCreated.Add(float64(parents))
	m.rootsRemaining.Set(float64(roots))
}
