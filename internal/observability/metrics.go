// Package observability holds the process-wide Prometheus collectors for ingestion and territory analysis.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "ingestion",
		Name:      "runs_created_total",
		Help:      "Runs persisted, labeled by the status assigned at creation.",
	}, []string{"status"})

	replays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "ingestion",
		Name:      "idempotent_replays_total",
		Help:      "Submissions answered from an existing run with the same id and owner.",
	})

	forbidden = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "ingestion",
		Name:      "forbidden_submissions_total",
		Help:      "Submissions rejected because the run id belongs to another user.",
	})

	persistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "territory",
		Subsystem: "ingestion",
		Name:      "last_run_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent run persisted.",
	})

	loopsDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "analysis",
		Name:      "loops_stored_total",
		Help:      "Loops detected and upserted.",
	})

	analysisSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "analysis",
		Name:      "skipped_total",
		Help:      "Analyses that stored nothing, labeled by reason.",
	}, []string{"reason"})

	enclosedCells = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "territory",
		Subsystem: "analysis",
		Name:      "enclosed_cells",
		Help:      "Number of interior cells captured per loop.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "territory",
		Subsystem: "analysis",
		Name:      "area_resolve_seconds",
		Help:      "Time spent rasterizing loop boundaries.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

func init() {
	prometheus.MustRegister(runsIngested, replays, forbidden, persistGauge, loopsDetected, analysisSkipped, enclosedCells, resolveDuration)
}

// RecordRunIngested counts a created run and moves the persistence watermark.
func RecordRunIngested(status string, ts time.Time) {
	runsIngested.WithLabelValues(status).Inc()
	if !ts.IsZero() {
		persistGauge.Set(float64(ts.Unix()))
	}
}

// RecordReplay counts an idempotent replay.
func RecordReplay() { replays.Inc() }

// RecordForbiddenSubmission counts a cross-user id collision.
func RecordForbiddenSubmission() { forbidden.Inc() }

// RecordLoopDetected counts a stored loop and its interior size.
func RecordLoopDetected(enclosed int) {
	loopsDetected.Inc()
	enclosedCells.Observe(float64(enclosed))
}

// RecordAnalysisSkipped counts an analysis that stored nothing.
func RecordAnalysisSkipped(reason string) { analysisSkipped.WithLabelValues(reason).Inc() }

// ObserveAreaResolve records how long a rasterization took.
func ObserveAreaResolve(d time.Duration) { resolveDuration.Observe(d.Seconds()) }

// RunsIngested exposes the ingestion counter for tests.
func RunsIngested(status string) prometheus.Counter { return runsIngested.WithLabelValues(status) }

// Replays exposes the replay counter for tests.
func Replays() prometheus.Counter { return replays }
