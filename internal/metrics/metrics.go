// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SpansAccepted counts spans that passed validation and committed.
	SpansAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beacon",
		Name:      "spans_accepted_total",
		Help:      "Spans accepted by the intake pipeline.",
	})

	// SpansRejected counts spans dropped by validation or a failed commit.
	SpansRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beacon",
		Name:      "spans_rejected_total",
		Help:      "Spans rejected by the intake pipeline.",
	})

	// EventsBroadcast counts events delivered to live subscribers.
	EventsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beacon",
		Name:      "events_broadcast_total",
		Help:      "Events delivered to WebSocket sessions.",
	})

	// LiveSessions tracks currently connected WebSocket sessions.
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "beacon",
		Name:      "live_sessions",
		Help:      "Connected WebSocket sessions.",
	})

	// AgentRuns counts orchestrated scenario launches by outcome.
	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacon",
		Name:      "agent_runs_total",
		Help:      "Orchestrated agent runs by terminal status.",
	}, []string{"status"})
)
