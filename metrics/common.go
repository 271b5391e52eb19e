package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the basic namespace where all metrics are defined under.
	Namespace = "agreement"
)

// NewCounter creates a Counter metrics under the global namespace.
func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewGauge creates a Gauge metrics under the global namespace.
func NewGauge(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewHistogram creates a Histogram metrics under the global namespace.
func NewHistogram(name, subsystem, help string, labels []string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewHistogramWithBuckets creates a Histogram metrics with custom buckets.
func NewHistogramWithBuckets(name, subsystem, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, labels)
}

// payloadLatency measures the time a payload was received relative to the
// start of its round. Metrics are labeled by round and sign. Sign is either
// "pos" or "neg"; negative latencies occur when a payload is submitted for a
// round the local process has not entered yet, which can happen when clocks
// across participants are not in sync.
var payloadLatency = NewHistogramWithBuckets(
	"payload_latency_seconds",
	"",
	"Observed latency for a payload relative to its round start",
	[]string{"round", "sign"},
	prometheus.ExponentialBuckets(0.1, 2, 12),
)

// ReportPayloadLatency observes latency for a payload in the given round.
func ReportPayloadLatency(round string, latency time.Duration) {
	seconds := latency.Seconds()
	sign := "pos"
	if seconds < 0 {
		sign = "neg"
		// If the observation is negative make it positive.
		seconds = -seconds
	}
	payloadLatency.WithLabelValues(round, sign).Observe(seconds)
}
