// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes Prometheus metrics for the decision
// endpoint and the IdP interactions behind it.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts authorization decisions by outcome.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_decisions_total",
			Help: "Total number of authorization decisions by outcome",
		},
		[]string{"outcome"},
	)

	// CacheLookupsTotal counts authorization cache lookups by result.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_cache_lookups_total",
			Help: "Total number of authorization cache lookups by result",
		},
		[]string{"result"},
	)

	// IdPRequestsTotal counts IdP interactions by operation and status.
	IdPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_idp_requests_total",
			Help: "Total number of identity provider requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	// DecisionDuration tracks end-to-end decision latency.
	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authgate_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)
)

// RecordDecision records one served decision with its latency.
func RecordDecision(outcome string, seconds float64) {
	DecisionsTotal.WithLabelValues(outcome).Inc()
	DecisionDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordCacheLookup records one authorization cache lookup.
func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordIdPRequest records one IdP interaction.
func RecordIdPRequest(operation, status string) {
	IdPRequestsTotal.WithLabelValues(operation, status).Inc()
}
