// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package metrics provides Prometheus instrumentation for the chat
// synchronization engine: send pipeline throughput and failures, event
// stream health, outbox depth, and cross-tab bus traffic. Metrics are
// exposed on the ops server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Send pipeline

	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Total outgoing message send attempts by result",
		},
		[]string{"result"}, // "success", "transient", "rejected", "identity"
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_send_duration_seconds",
			Help:    "Duration of send API calls in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_retries_total",
			Help: "Total user-initiated retries of failed messages",
		},
	)

	// Event multiplexer

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_total",
			Help: "Total streamed events processed by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_dropped_total",
			Help: "Total streamed frames dropped by reason",
		},
		[]string{"reason"}, // "malformed", "echo"
	)

	StreamReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_stream_reconnects_total",
			Help: "Total websocket reconnect attempts by scope kind",
		},
		[]string{"scope"}, // "user", "conversation"
	)

	WatchedConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_watched_conversations",
			Help: "Current number of watched conversation streams",
		},
	)

	Resyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_resyncs_total",
			Help: "Total full resyncs triggered after prolonged offline gaps",
		},
	)

	// Caches

	StoreMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_store_messages",
			Help: "Current number of cached messages across conversations",
		},
	)

	// Outbox

	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_outbox_depth",
			Help: "Current number of durable pending outbox entries",
		},
	)

	OutboxRehydrated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_outbox_rehydrated_total",
			Help: "Total pending entries restored into caches after restart",
		},
	)

	// Cross-tab bus

	BusPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_bus_published_total",
			Help: "Total mutations broadcast to sibling instances",
		},
	)

	BusApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_bus_applied_total",
			Help: "Total sibling mutations applied to local caches",
		},
	)

	// Circuit breaker (send API)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
