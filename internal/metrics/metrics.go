// Package metrics contains the prometheus metrics exported by the probe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Runs counts finished probe runs by outcome ("done" or "cancelled").
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedprobe_runs_total",
			Help: "Number of probe runs by outcome.",
		},
		[]string{"outcome"},
	)
	// Rate is the distribution of final rates by direction.
	Rate = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "speedprobe_rate_mbps",
			Help: "A histogram of measured rates.",
			Buckets: []float64{
				.1, .15, .25, .4, .6,
				1, 1.5, 2.5, 4, 6,
				10, 15, 25, 40, 60,
				100, 150, 250, 400, 600,
				1000},
		},
		[]string{"direction"},
	)
	// Ping is the distribution of representative latencies, in seconds.
	Ping = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speedprobe_ping_seconds",
			Help:    "A histogram of representative round-trip times.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
	// PhaseDegraded counts phases that ended early because of an error.
	PhaseDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedprobe_phase_degraded_total",
			Help: "Number of phases that ended early because of an error.",
		},
		[]string{"phase"},
	)
)
