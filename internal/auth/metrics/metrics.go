// Package metrics exposes the Prometheus collectors for the auth service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssued counts successful token issuances by grant type.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "tokens",
		Name:      "issued_total",
		Help:      "Number of successfully issued token responses.",
	}, []string{"grant_type"})

	// TokenFailures counts rejected token requests by grant type and error.
	TokenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "tokens",
		Name:      "failed_total",
		Help:      "Number of rejected token requests.",
	}, []string{"grant_type", "error"})

	// GateRejections counts MFA gate rejections by machine-readable reason.
	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "mfa_gate",
		Name:      "rejections_total",
		Help:      "Number of requests rejected by the MFA gate.",
	}, []string{"reason"})

	// GrantsRemoved counts grants deleted by revocation or housekeeping.
	GrantsRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "grants",
		Name:      "removed_total",
		Help:      "Number of authorization grants removed.",
	}, []string{"cause"})
)
