// Package telemetry holds the Prometheus collectors and tracing helpers shared
// by the session and the HTTP layer.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatmate",
			Subsystem: "session",
			Name:      "loads_total",
			Help:      "Model load attempts by outcome",
		},
		[]string{"outcome"},
	)

	loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatmate",
			Subsystem: "session",
			Name:      "load_duration_seconds",
			Help:      "Time spent loading a model",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatmate",
			Subsystem: "session",
			Name:      "generations_total",
			Help:      "Finished generations by outcome (completed, cancelled, failed)",
		},
		[]string{"outcome"},
	)

	fragmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatmate",
			Subsystem: "session",
			Name:      "fragments_total",
			Help:      "Text fragments delivered to consumers",
		},
	)

	firstFragment = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatmate",
			Subsystem: "session",
			Name:      "time_to_first_fragment_seconds",
			Help:      "Latency from generation start to the first delivered fragment",
			Buckets:   prometheus.DefBuckets,
		},
	)

	generating = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatmate",
			Subsystem: "session",
			Name:      "generating",
			Help:      "1 while a generation is in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, generationsTotal, fragmentsTotal, firstFragment, generating)
}

// ObserveLoad records one load attempt.
func ObserveLoad(outcome string, d time.Duration) {
	loadsTotal.WithLabelValues(outcome).Inc()
	loadDuration.Observe(d.Seconds())
}

// GenerationStarted marks a generation as in flight.
func GenerationStarted() { generating.Set(1) }

// GenerationFinished records the outcome of a generation.
func GenerationFinished(outcome string) {
	generating.Set(0)
	generationsTotal.WithLabelValues(outcome).Inc()
}

// FragmentDelivered counts one fragment handed to a consumer.
func FragmentDelivered() { fragmentsTotal.Inc() }

// ObserveFirstFragment records time-to-first-fragment.
func ObserveFirstFragment(d time.Duration) { firstFragment.Observe(d.Seconds()) }
