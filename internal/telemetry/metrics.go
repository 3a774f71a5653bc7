// Package telemetry holds the prometheus collectors of the matching server.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "duet"

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Currently open match connections.",
	})

	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_total",
		Help:      "Pairs formed, by pool kind.",
	}, []string{"pool"})

	QueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queued_total",
		Help:      "Find requests that ended up waiting, by pool kind.",
	}, []string{"pool"})

	Waiting = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "waiting",
		Help:      "Connections currently waiting, by pool kind.",
	}, []string{"pool"})

	RelayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_errors_total",
		Help:      "Failed relay operations, by operation.",
	}, []string{"op"})

	DroppedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_frames_total",
		Help:      "Outbound frames dropped because a client could not keep up.",
	})
)
