// Package services – correction flow metrics
//
// This file exposes Prometheus instrumentation for the correction engine.
// Labels are kept to small closed sets (result kinds, trigger modes) so
// cardinality stays bounded regardless of traffic.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// analysisResults counts completed analysis calls by outcome:
	// "clean", "errors", or "failed".
	analysisResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correction_analysis_results_total",
			Help: "Completed linguistic analysis calls by outcome.",
		},
		[]string{"outcome"},
	)

	// mismatchSessions counts opened mismatch practice sessions by trigger:
	// "text" (typed wrong-language input) or "voice" (spoken attempt ceiling).
	mismatchSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correction_mismatch_sessions_total",
			Help: "Opened mismatch practice sessions by trigger mode.",
		},
		[]string{"trigger"},
	)

	// suggestions counts suggestion generation outcomes: "generated",
	// "failed", or "accepted".
	suggestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correction_suggestions_total",
			Help: "Suggestion generation and acceptance events.",
		},
		[]string{"event"},
	)

	// gateDecisions counts response gate checks by decision: "allowed" or
	// "blocked".
	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correction_gate_decisions_total",
			Help: "AI response gate decisions.",
		},
		[]string{"decision"},
	)

	// fallbackReplies counts partner replies replaced by the fallback
	// apology because generation failed.
	fallbackReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "correction_fallback_replies_total",
			Help: "Partner replies substituted with the fallback apology.",
		},
	)

	// liveSessions gauges the number of engine sessions held in memory.
	liveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "correction_live_sessions",
			Help: "Engine sessions currently cached in memory.",
		},
	)
)

func init() {
	prometheus.MustRegister(analysisResults, mismatchSessions, suggestions, gateDecisions, fallbackReplies, liveSessions)
}
