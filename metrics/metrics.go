// Package metrics exposes Prometheus instrumentation for the execution
// pipeline. Counters and gauges are registered at init via promauto and
// served through the standard promhttp handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrdersQueued counts orders accepted into the execution queue.
var OrdersQueued = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "orders",
		Name:      "queued_total",
		Help:      "Total number of orders accepted into the execution queue",
	},
	[]string{"symbol", "type"},
)

// OrdersExecuted counts orders that completed successfully.
var OrdersExecuted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "orders",
		Name:      "executed_total",
		Help:      "Total number of successfully executed orders",
	},
	[]string{"symbol", "type"},
)

// OrdersDropped counts orders removed without execution, by cause.
var OrdersDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "orders",
		Name:      "dropped_total",
		Help:      "Total number of orders dropped from the queue",
	},
	[]string{"symbol", "cause"},
)

// OrderRetries counts execution retries.
var OrderRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "orders",
		Name:      "retries_total",
		Help:      "Total number of order execution retries",
	},
	[]string{"symbol"},
)

// QueueDepth tracks the current number of pending orders.
var QueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpguard",
		Subsystem: "orders",
		Name:      "queue_depth",
		Help:      "Current number of orders waiting in the execution queue",
	},
)

// EmergencyActions counts emergency decisions by action.
var EmergencyActions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "risk",
		Name:      "emergency_actions_total",
		Help:      "Total number of non-hold emergency decisions",
	},
	[]string{"symbol", "action"},
)

// PositionsOpen tracks currently open positions.
var PositionsOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpguard",
		Subsystem: "risk",
		Name:      "positions_open",
		Help:      "Number of currently open positions",
	},
)

// AccountBalance tracks the latest account balance in USD.
var AccountBalance = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpguard",
		Subsystem: "account",
		Name:      "balance_usd",
		Help:      "Current account balance in USD",
	},
)
