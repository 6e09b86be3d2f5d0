package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics
var (
	// HubActiveSubscribers tracks currently registered subscribers per stream
	HubActiveSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_active_subscribers",
			Help: "Currently registered subscribers per stream",
		},
		[]string{"stream"},
	)

	// HubPublishesTotal tracks publish cycles per stream
	HubPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_publishes_total",
			Help: "Total publish cycles per stream",
		},
		[]string{"stream"},
	)

	// HubSnapshotsDroppedTotal tracks snapshots dropped from full subscriber queues
	HubSnapshotsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_snapshots_dropped_total",
			Help: "Snapshots dropped from full subscriber queues per stream",
		},
		[]string{"stream"},
	)

	// HubSubscribersEvictedTotal tracks chronically slow subscribers removed by the hub
	HubSubscribersEvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_subscribers_evicted_total",
			Help: "Subscribers forcibly unsubscribed after consecutive queue overflows",
		},
		[]string{"stream"},
	)

	// HubPublishDuration tracks fan-out duration per publish cycle
	HubPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_publish_duration_seconds",
			Help:    "Fan-out duration per publish cycle in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// HubCommandChannelDepth tracks current hub command channel depth
	HubCommandChannelDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current hub command channel depth",
		},
		[]string{"stream"},
	)
)

// Feed driver metrics
var (
	// CollectorErrorsTotal tracks failed snapshot collections per stream
	CollectorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_errors_total",
			Help: "Failed snapshot collections per stream",
		},
		[]string{"stream"},
	)

	// CollectorDuration tracks snapshot collection latency in seconds
	CollectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_duration_seconds",
			Help:    "Snapshot collection duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		},
		[]string{"stream"},
	)

	// DriverRebroadcastsTotal tracks ticks that re-published the last good snapshot
	DriverRebroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driver_rebroadcasts_total",
			Help: "Ticks that re-published the last good snapshot after a collect failure",
		},
		[]string{"stream"},
	)

	// TriggerRequestsTotal tracks manual broadcast triggers by stream and outcome
	TriggerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_requests_total",
			Help: "Manual broadcast triggers by stream and outcome",
		},
		[]string{"stream", "status"},
	)
)

// Transport metrics
var (
	// StreamConnectionsTotal tracks accepted stream connections by transport
	StreamConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_connections_total",
			Help: "Accepted stream connections by transport (sse/websocket)",
		},
		[]string{"transport"},
	)

	// StreamConnectionsRejectedTotal tracks connections rejected before subscribing
	StreamConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_connections_rejected_total",
			Help: "Stream connections rejected before subscribing, by reason",
		},
		[]string{"reason"},
	)

	// StreamWriteDuration tracks per-event wire write latency in seconds
	StreamWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_write_duration_seconds",
			Help:    "Per-event wire write duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"transport"},
	)
)

// Coordination metrics
var (
	// TriggerBusMessagesTotal tracks trigger messages received over the Redis bus
	TriggerBusMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_bus_messages_total",
			Help: "Trigger messages received over the Redis bus per stream",
		},
		[]string{"stream"},
	)
)
