// Package metrics provides Prometheus metrics for muti-ping.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "muti_ping"
)

// Metrics contains all Prometheus metrics for the tool. It implements
// ping.Recorder.
type Metrics struct {
	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Echo metrics
	EchoesSent         prometheus.Counter
	RepliesReceived    prometheus.Counter
	DatagramsDiscarded *prometheus.CounterVec
	RTT                prometheus.Histogram

	// Data transfer metrics
	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter

	// Error metrics
	TransportErrors *prometheus.CounterVec

	// Resolver metrics
	ResolveLatency prometheus.Histogram
	ResolveErrors  prometheus.Counter
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of echo sessions currently running",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of echo sessions started",
		}),

		EchoesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echoes_sent_total",
			Help:      "Total echo requests transmitted",
		}),
		RepliesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_received_total",
			Help:      "Total echo replies matched to a session",
		}),
		DatagramsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_discarded_total",
			Help:      "Total datagrams read but not reported, by reason",
		}, []string{"reason"}),
		RTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtt_seconds",
			Help:      "Histogram of echo round-trip time in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total ICMP bytes transmitted",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total ICMP bytes received in matched replies",
		}),

		TransportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Total socket errors by operation",
		}, []string{"op"}),

		ResolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_latency_seconds",
			Help:      "Histogram of host resolution and socket setup latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		ResolveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_errors_total",
			Help:      "Total failed host resolutions",
		}),
	}
}

// SessionStarted records a session entering its run loop.
func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionEnded records a session releasing its socket.
func (m *Metrics) SessionEnded() {
	m.SessionsActive.Dec()
}

// RecordEchoSent records a transmitted echo request.
func (m *Metrics) RecordEchoSent(bytes int) {
	m.EchoesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordReply records a matched echo reply.
func (m *Metrics) RecordReply(bytes int, rtt time.Duration) {
	m.RepliesReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
	m.RTT.Observe(rtt.Seconds())
}

// RecordDiscard records a datagram dropped for the given reason.
func (m *Metrics) RecordDiscard(reason string) {
	m.DatagramsDiscarded.WithLabelValues(reason).Inc()
}

// RecordTransportError records a socket error during op (send or receive).
func (m *Metrics) RecordTransportError(op string) {
	m.TransportErrors.WithLabelValues(op).Inc()
}

// RecordResolve records how long resolution took and whether it failed.
func (m *Metrics) RecordResolve(latency time.Duration, err error) {
	m.ResolveLatency.Observe(latency.Seconds())
	if err != nil {
		m.ResolveErrors.Inc()
	}
}
