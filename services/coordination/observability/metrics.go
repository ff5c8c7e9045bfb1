// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the coordination layer.
//
// # Description
//
// Metrics cover every shared-state component:
//   - Store availability (gauge)
//   - Lock acquisitions and releases by namespace and result
//   - Breaker transitions and provider attempts by outcome
//   - Snapshot cache lookups and origin load latency
//   - Telemetry counter operations
//   - Operator alerts sent and dropped
//
// # Nil Safety
//
// Every Record method is a no-op on a nil *Metrics, so components and tests
// may pass nil when they do not care about instrumentation.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for coordination metrics
const coordinationSubsystem = "coordination"

// Metrics holds all Prometheus collectors for the coordination layer.
//
// # Description
//
// Initialize once per process with NewMetrics and inject the pointer into
// each component. Tests create their own registry to avoid duplicate
// registration panics.
type Metrics struct {
	// StoreAvailable is 1 while the shared store answers pings, 0 otherwise.
	StoreAvailable prometheus.Gauge

	// LockOperationsTotal counts lock calls.
	// Labels: namespace, operation (acquire, release, extend), result
	LockOperationsTotal *prometheus.CounterVec

	// BreakerOpen is 1 while a breaker is open.
	// Labels: key
	BreakerOpen *prometheus.GaugeVec

	// BreakerTripsTotal counts closed-to-open transitions.
	// Labels: key, reason (threshold, rate_limited)
	BreakerTripsTotal *prometheus.CounterVec

	// ProviderAttemptsTotal counts failover candidate outcomes.
	// Labels: capability, provider, outcome (success, failure, rate_limited, skipped)
	ProviderAttemptsTotal *prometheus.CounterVec

	// FailoverExhaustedTotal counts failover calls that surfaced an error.
	// Labels: capability, reason (no_available, all_failed)
	FailoverExhaustedTotal *prometheus.CounterVec

	// SnapshotLookupsTotal counts cache lookups.
	// Labels: result (hit, miss, shared, absent, error)
	SnapshotLookupsTotal *prometheus.CounterVec

	// SnapshotLoadSeconds measures full origin loads.
	SnapshotLoadSeconds prometheus.Histogram

	// TelemetryOperationsTotal counts counter writes and reads.
	// Labels: operation (increment, read), result (ok, degraded)
	TelemetryOperationsTotal *prometheus.CounterVec

	// AlertsTotal counts operator alerts.
	// Labels: result (sent, failed, dropped, rate_limited)
	AlertsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
//
// # Inputs
//
//   - reg: Registry to register on. nil uses prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StoreAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: coordinationSubsystem,
			Name:      "store_available",
			Help:      "Whether the shared key-value store is reachable (1) or degraded (0)",
		}),

		LockOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinationSubsystem,
				Name:      "lock_operations_total",
				Help:      "Distributed lock operations by namespace, operation and result",
			},
			[]string{"namespace", "operation", "result"},
		),

		BreakerOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinationSubsystem,
				Name:      "breaker_open",
				Help:      "Whether a circuit breaker is currently open",
			},
			[]string{"key"},
		),

		BreakerTripsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinationSubsystem,
				Name:      "breaker_trips_total",
				Help:      "Circuit breaker closed-to-open transitions",
			},
			[]string{"key", "reason"},
		),

		ProviderAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinationSubsystem,
				Name:      "provider_attempts_total",
				Help:      "Failover candidate outcomes by capability and provider",
			},
			[]string{"capability", "provider", "outcome"},
		),

		FailoverExhaustedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinationSubsystem,
				Name:      "failover_exhausted_total",
				Help:      "Failover calls where no candidate produced a result",
			},
			[]string{"capability", "reason"},
		),

		SnapshotLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinationSubsystem,
				Name:      "snapshot_lookups_total",
				Help:      "Snapshot cache lookups by result",
			},
			[]string{"result"},
		),

		SnapshotLoadSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: coordinationSubsystem,
			Name:      "snapshot_load_seconds",
			Help:      "Duration of full snapshot loads from the origin",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		TelemetryOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinationSubsystem,
				Name:      "telemetry_operations_total",
				Help:      "Telemetry counter operations by result",
			},
			[]string{"operation", "result"},
		),

		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinationSubsystem,
				Name:      "alerts_total",
				Help:      "Operator alerts by delivery result",
			},
			[]string{"result"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// Outcome labels a failover candidate attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeSkipped     Outcome = "skipped"
)

// =============================================================================
// Helper Methods
// =============================================================================

// SetStoreAvailable records the store's current reachability.
func (m *Metrics) SetStoreAvailable(available bool) {
	if m == nil {
		return
	}
	if available {
		m.StoreAvailable.Set(1)
	} else {
		m.StoreAvailable.Set(0)
	}
}

// RecordLock records a lock operation.
//
// # Inputs
//
//   - namespace: Lock namespace (e.g. "document").
//   - operation: "acquire", "release" or "extend".
//   - result: e.g. "acquired", "busy", "released", "not_owner", "unavailable".
func (m *Metrics) RecordLock(namespace, operation, result string) {
	if m == nil {
		return
	}
	m.LockOperationsTotal.WithLabelValues(namespace, operation, result).Inc()
}

// RecordBreakerState sets the open gauge for a breaker key.
func (m *Metrics) RecordBreakerState(key string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerOpen.WithLabelValues(key).Set(v)
}

// RecordBreakerTrip counts a closed-to-open transition.
func (m *Metrics) RecordBreakerTrip(key, reason string) {
	if m == nil {
		return
	}
	m.BreakerTripsTotal.WithLabelValues(key, reason).Inc()
}

// RecordProviderAttempt counts one candidate outcome.
func (m *Metrics) RecordProviderAttempt(capability, provider string, outcome Outcome) {
	if m == nil {
		return
	}
	m.ProviderAttemptsTotal.WithLabelValues(capability, provider, string(outcome)).Inc()
}

// RecordFailoverExhausted counts a failover call that surfaced an error.
func (m *Metrics) RecordFailoverExhausted(capability, reason string) {
	if m == nil {
		return
	}
	m.FailoverExhaustedTotal.WithLabelValues(capability, reason).Inc()
}

// RecordSnapshotLookup counts one cache lookup.
func (m *Metrics) RecordSnapshotLookup(result string) {
	if m == nil {
		return
	}
	m.SnapshotLookupsTotal.WithLabelValues(result).Inc()
}

// RecordSnapshotLoad observes one full origin load.
func (m *Metrics) RecordSnapshotLoad(seconds float64) {
	if m == nil {
		return
	}
	m.SnapshotLoadSeconds.Observe(seconds)
}

// RecordTelemetry counts one counter operation.
func (m *Metrics) RecordTelemetry(operation string, degraded bool) {
	if m == nil {
		return
	}
	result := "ok"
	if degraded {
		result = "degraded"
	}
	m.TelemetryOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordAlert counts one alert outcome.
func (m *Metrics) RecordAlert(result string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(result).Inc()
}
