// Package metrics declares the kernel's prometheus instrumentation,
// mirroring the naming convention of the teacher's internal/v1/metrics
// package: namespace_subsystem_name, gauges for current state, counters
// for cumulative events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently registered clients, across all
	// transports.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kernel",
		Subsystem: "hub",
		Name:      "connections_active",
		Help:      "Current number of registered clients by transport",
	}, []string{"transport"})

	// ActiveRooms tracks the number of non-empty rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kernel",
		Subsystem: "rooms",
		Name:      "active",
		Help:      "Current number of non-empty rooms",
	})

	// RoomMembers tracks membership count per room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kernel",
		Subsystem: "rooms",
		Name:      "members",
		Help:      "Current number of members in each room",
	}, []string{"room"})

	// MessagesDispatched counts messages the kernel has dispatched to
	// handlers, by message type.
	MessagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "dispatch",
		Name:      "messages_total",
		Help:      "Total messages dispatched by type",
	}, []string{"type"})

	// HandlerErrors counts handler panics/errors isolated by the kernel.
	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "dispatch",
		Name:      "handler_errors_total",
		Help:      "Total handler errors isolated during dispatch",
	}, []string{"type"})

	// MeshPeersReady tracks the number of live mesh peer connections.
	MeshPeersReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kernel",
		Subsystem: "mesh",
		Name:      "peers_ready",
		Help:      "Current number of ready mesh peer connections",
	})

	// MeshDialAttempts counts outbound dial attempts by peer address.
	MeshDialAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "mesh",
		Name:      "dial_attempts_total",
		Help:      "Total dial attempts by address and outcome",
	}, []string{"address", "outcome"})

	// CircuitBreakerState mirrors the teacher's circuit breaker gauge:
	// 0 closed, 1 open, 2 half-open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kernel",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a named circuit breaker (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})
)
