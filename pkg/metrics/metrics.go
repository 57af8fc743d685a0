package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordination client metrics
	CoordinationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_coordination_retries_total",
			Help: "Total number of retried coordination-store operations by op",
		},
		[]string{"op"},
	)

	CoordinationReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_coordination_reconnects_total",
			Help: "Total number of times the coordination session was torn down and reopened against a new ensemble",
		},
	)

	EnsemblePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_ensemble_polls_total",
			Help: "Total number of ensemble discovery polls by outcome",
		},
		[]string{"outcome"}, // "changed", "unchanged", "failed"
	)

	// Controller metrics
	ChecksRunTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_checks_run_total",
			Help: "Total number of changes enqueued on the controller, by change name; check invocations that enqueue nothing are not counted",
		},
		[]string{"check"},
	)

	ChangesRegisteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_changes_registered_total",
			Help: "Total number of changes this supervisor registered as owner, by name",
		},
		[]string{"name"},
	)

	ChangesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_changes_completed_total",
			Help: "Total number of changes completed by name and outcome",
		},
		[]string{"name", "outcome"}, // outcome: "done", "removed", "error"
	)

	PendingChangesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_pending_changes",
			Help: "Current number of queued changes by name",
		},
		[]string{"name"},
	)

	MakeStepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supervisor_make_step_duration_seconds",
			Help:    "Time taken for one controller.MakeStep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Broker lifecycle metrics
	BrokerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_broker_running",
			Help: "Whether the local broker subprocess handle is held (1) or not (0)",
		},
	)

	BrokerRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_broker_registered",
			Help: "Whether the local broker id is currently present in the coordination store",
		},
	)

	// Disk-imbalance / swap metrics
	DiskGapKB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_disk_gap_kb",
			Help: "Most recently observed gap in free_kb between the fattest and slimmest broker",
		},
	)

	SwapsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_swaps_submitted_total",
			Help: "Total number of partition swap reassignments successfully submitted",
		},
	)

	SwapsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_swaps_skipped_total",
			Help: "Total number of disk-imbalance checks that did not result in a swap, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(CoordinationRetriesTotal)
	prometheus.MustRegister(CoordinationReconnectsTotal)
	prometheus.MustRegister(EnsemblePollsTotal)
	prometheus.MustRegister(ChecksRunTotal)
	prometheus.MustRegister(ChangesRegisteredTotal)
	prometheus.MustRegister(ChangesCompletedTotal)
	prometheus.MustRegister(PendingChangesGauge)
	prometheus.MustRegister(MakeStepDuration)
	prometheus.MustRegister(BrokerRunning)
	prometheus.MustRegister(BrokerRegistered)
	prometheus.MustRegister(DiskGapKB)
	prometheus.MustRegister(SwapsSubmittedTotal)
	prometheus.MustRegister(SwapsSkippedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
