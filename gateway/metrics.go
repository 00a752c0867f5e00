package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks gateway activity for operators. Registered lazily on the
// default registry by the HTTP server.
type Metrics struct {
	releases        *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	staleRejections prometheus.Counter
	sourceLatency   prometheus.Histogram
}

func newMetrics() *Metrics {
	return &Metrics{
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custodia",
			Subsystem: "gateway",
			Name:      "release_attempts_total",
			Help:      "Release attempts by result.",
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custodia",
			Subsystem: "gateway",
			Name:      "challenge_resolutions_total",
			Help:      "Challenge resolutions by outcome.",
		}, []string{"outcome"}),
		staleRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "custodia",
			Subsystem: "gateway",
			Name:      "stale_score_rejections_total",
			Help:      "Observations rejected for exceeding the maximum age.",
		}),
		sourceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "custodia",
			Subsystem: "gateway",
			Name:      "trust_source_latency_seconds",
			Help:      "Latency of trust source score fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeSourceLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.sourceLatency.Observe(d.Seconds())
}

// Register adds the gateway collectors to the registry. Safe to call once.
func (m *Metrics) Register(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	reg.MustRegister(m.releases, m.resolutions, m.staleRejections, m.sourceLatency)
}
