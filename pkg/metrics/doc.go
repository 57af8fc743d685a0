/*
Package metrics provides Prometheus metrics collection and exposition for the
supervisor.

The metrics package defines and registers all supervisor metrics using the
Prometheus client library, providing observability into coordination-store
health, control-loop activity, broker lifecycle state, and disk-imbalance
remediation. Metrics are exposed via an HTTP endpoint for scraping by
Prometheus servers, alongside health/readiness/liveness JSON endpoints.

# Architecture

The supervisor's metrics system follows Prometheus best practices with
instrumentation across every package:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (broker running)     │          │
	│  │  Counter: Monotonic increases (retries)     │          │
	│  │  Histogram: Distributions (step duration)   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Coordination: retries, reconnects, polls   │          │
	│  │  Controller: checks, changes, step duration │          │
	│  │  Broker lifecycle: running, registered      │          │
	│  │  Disk imbalance: gap, swaps, skips          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │     HTTP Metrics + Health Endpoints         │          │
	│  │  - /metrics: Prometheus text exposition     │          │
	│  │  - /health, /ready, /live: JSON status      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics every 15s               │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: broker running, broker registered, disk gap
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: coordination retries, swaps submitted, checks run
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Buckets for latency percentiles (p50, p95, p99)
  - Examples: make_step duration
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Health Checker:
  - In-process registry of named component health (RegisterComponent,
    UpdateComponent)
  - GetHealth aggregates every registered component
  - GetReadiness additionally requires "coordination" and "controller" to
    be registered and healthy before reporting ready

# Metrics Catalog

Coordination Metrics:

supervisor_coordination_retries_total{op}:
  - Type: Counter
  - Description: Total retried coordination-store operations by op
  - Example: supervisor_coordination_retries_total{op="get"} 4

supervisor_coordination_reconnects_total:
  - Type: Counter
  - Description: Total times the coordination session was torn down and
    reopened against a new ensemble

supervisor_ensemble_polls_total{outcome}:
  - Type: Counter
  - Description: Total ensemble discovery polls by outcome
  - Labels: outcome ("changed", "unchanged", "failed")

Controller Metrics:

supervisor_checks_run_total{check}:
  - Type: Counter
  - Description: Total changes enqueued on the controller; the check
    label holds the change name, and check invocations that enqueue
    nothing are not counted

supervisor_changes_registered_total{name}:
  - Type: Counter
  - Description: Total changes this supervisor registered as owner, by name

supervisor_changes_completed_total{name, outcome}:
  - Type: Counter
  - Description: Total changes completed by name and outcome
  - Labels: outcome ("done", "removed", "error")

supervisor_pending_changes{name}:
  - Type: Gauge
  - Description: Current number of queued changes by name

supervisor_make_step_duration_seconds:
  - Type: Histogram
  - Description: Time taken for one controller.MakeStep cycle

Broker Lifecycle Metrics:

supervisor_broker_running:
  - Type: Gauge
  - Description: Whether the local broker subprocess handle is held
    (1) or not (0)

supervisor_broker_registered:
  - Type: Gauge
  - Description: Whether the local broker id is currently present in
    the coordination store

Disk Imbalance Metrics:

supervisor_disk_gap_kb:
  - Type: Gauge
  - Description: Most recently observed gap in free_kb between the
    fattest and slimmest broker

supervisor_swaps_submitted_total:
  - Type: Counter
  - Description: Total number of partition swap reassignments
    successfully submitted

supervisor_swaps_skipped_total{reason}:
  - Type: Counter
  - Description: Total number of disk-imbalance checks that did not
    result in a swap, by reason ("no_stats", "gap_below_threshold",
    "no_slim_candidate", "no_fat_candidate")

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/bubuku-go/pkg/metrics"

	// Set absolute value
	metrics.BrokerRunning.Set(1)
	metrics.DiskGapKB.Set(float64(gap))

Updating Counter Metrics:

	// Increment by 1
	metrics.SwapsSubmittedTotal.Inc()

	// Labelled increment
	metrics.CoordinationRetriesTotal.WithLabelValues("get").Inc()
	metrics.SwapsSkippedTotal.WithLabelValues("gap_below_threshold").Inc()

Recording Histogram Observations:

	// Using the Timer helper
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MakeStepDuration)

Complete Example:

	package main

	import (
		"net/http"
		"github.com/cuemby/bubuku-go/pkg/metrics"
	)

	func main() {
		metrics.RegisterComponent("coordination", true, "")
		metrics.RegisterComponent("controller", true, "")

		http.Handle("/metrics", metrics.Handler())
		http.HandleFunc("/health", metrics.HealthHandler())
		http.HandleFunc("/ready", metrics.ReadyHandler())
		http.HandleFunc("/live", metrics.LivenessHandler())
		http.ListenAndServe(":9090", nil)
	}

# Integration Points

This package integrates with:

  - pkg/coordination: Records retries, reconnects, and ensemble poll outcomes
  - pkg/controller: Times make_step cycles, tracks pending/completed changes
  - pkg/brokerlifecycle: Reports broker running/registered gauges
  - pkg/diskimbalance: Records disk gap and swap submission/skip counts
  - Prometheus: Scrapes /metrics endpoint
  - Kubernetes-style orchestrators: Poll /health, /ready, /live

# Design Patterns

Package Init Registration:
  - All metrics registered as package-level vars, added to the default
    registry in init()
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels (op, outcome, reason)
  - Avoid high-cardinality labels (broker ids, timestamps)
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer ObserveDuration (or ObserveDurationVec for labelled histograms)
  - Automatically calculates elapsed time

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any supervisor package
  - Thread-safe concurrent updates

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible impact on the control loop's hot path

Memory Usage:
  - Per metric: ~1KB baseline
  - Per label combination: ~100 bytes
  - Total: well under 1MB for a single supervisor process

Scrape Performance:
  - Metrics gathering: ~1-5ms for full scrape
  - Recommendation: Scrape interval ≥ 15s
  - Concurrent scrapes: Safe (read-only)

# Troubleshooting

Common Issues:

Missing Metrics:
  - Symptom: Metric not appearing in /metrics output
  - Check: Metric registered in init() function
  - Check: MustRegister called (panics if duplicate)
  - Solution: Verify metric variable is exported

High Cardinality:
  - Symptom: Prometheus memory usage grows
  - Cause: Using broker ids or unbounded values as labels
  - Solution: Remove high-cardinality labels, aggregate differently

Stale Metrics:
  - Symptom: Metrics not updating
  - Cause: Code path not calling metric update methods
  - Solution: Instrument code paths correctly

Readiness Stuck Not Ready:
  - Symptom: /ready always returns 503
  - Cause: "coordination" or "controller" never registered via
    RegisterComponent
  - Solution: Call RegisterComponent once the coordination session and
    control loop are up

# Monitoring

Prometheus Queries (PromQL):

Coordination Health:
  - Reconnect rate: rate(supervisor_coordination_reconnects_total[5m])
  - Retry rate by op: rate(supervisor_coordination_retries_total[5m])
  - Failed ensemble polls: rate(supervisor_ensemble_polls_total{outcome="failed"}[5m])

Controller Activity:
  - Change enqueue rate: rate(supervisor_checks_run_total[1m])
  - p95 step duration: histogram_quantile(0.95, supervisor_make_step_duration_seconds_bucket)
  - Stuck changes: supervisor_pending_changes > 0

Broker Health:
  - Broker up: supervisor_broker_running
  - Broker registered: supervisor_broker_registered

Disk Imbalance:
  - Current gap: supervisor_disk_gap_kb
  - Swap rate: rate(supervisor_swaps_submitted_total[1h])
  - Skip reasons: sum by (reason) (rate(supervisor_swaps_skipped_total[1h]))

# Alerting Rules

Recommended Prometheus alerts:

Broker Not Registered While Running:
  - Alert: supervisor_broker_running == 1 and supervisor_broker_registered == 0
  - Description: Subprocess is alive but absent from the coordination store
  - Action: Check broker logs and coordination connectivity

Coordination Reconnect Storm:
  - Alert: rate(supervisor_coordination_reconnects_total[10m]) > 0.1
  - Description: The coordination session is flapping
  - Action: Check ensemble health and network reachability

Persistent Disk Gap:
  - Alert: supervisor_disk_gap_kb > threshold for 1h
  - Description: Disk imbalance is not being resolved
  - Action: Check for a stuck rebalance-family change blocking swaps

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
