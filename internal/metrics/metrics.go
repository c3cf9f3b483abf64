// Package metrics holds the Prometheus collectors binsleuth exports. The
// collectors register with the default registry on import.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// identifications counts Identify calls.
	// Labels: outcome (confirmed, best_effort, rejected, unknown, error)
	identifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "binsleuth",
		Subsystem: "forest",
		Name:      "identifications_total",
		Help:      "Identify calls by outcome",
	}, []string{"outcome"})

	// identifyDuration measures one Identify call end to end.
	identifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "binsleuth",
		Subsystem: "forest",
		Name:      "identify_duration_seconds",
		Help:      "Identify latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})

	// probes counts probe contexts applied to a tracer.
	// Labels: phase (traverse, confirm), verdict (accepted, rejected, error)
	probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "binsleuth",
		Subsystem: "forest",
		Name:      "probes_total",
		Help:      "Probe contexts applied by phase and verdict",
	}, []string{"phase", "verdict"})

	// sessions counts tracer lifecycle events.
	// Labels: event (start, start_error, timeout)
	sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "binsleuth",
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Tracer session lifecycle events",
	}, []string{"event"})

	// cacheLookups counts result-cache lookups.
	// Labels: result (hit, miss)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "binsleuth",
		Subsystem: "store",
		Name:      "lookups_total",
		Help:      "Result cache lookups",
	}, []string{"result"})
)

// Recorder is the metrics sink the forest reports to.
type Recorder interface {
	Identify(outcome string, d time.Duration)
	Probe(phase, verdict string)
	Session(event string)
}

// Prometheus records into the package collectors.
type Prometheus struct{}

func (Prometheus) Identify(outcome string, d time.Duration) {
	identifications.WithLabelValues(outcome).Inc()
	identifyDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (Prometheus) Probe(phase, verdict string) {
	probes.WithLabelValues(phase, verdict).Inc()
}

func (Prometheus) Session(event string) {
	sessions.WithLabelValues(event).Inc()
}

// RecordCacheLookup counts one cache lookup.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) Identify(string, time.Duration) {}
func (Nop) Probe(string, string)           {}
func (Nop) Session(string)                 {}
