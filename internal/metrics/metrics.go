// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceivedTotal counts frames handed to the engine by interface
	PacketsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v6rx_packets_received_total",
			Help: "Total number of IPv6 frames received",
		},
		[]string{"interface"},
	)

	// PacketsDeliveredTotal counts datagrams handed to an upper-layer transport
	PacketsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v6rx_packets_delivered_total",
			Help: "Total number of datagrams delivered to a transport",
		},
		[]string{"protocol"},
	)

	// PacketsForwardedTotal counts datagrams re-emitted by the forwarding path
	PacketsForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v6rx_packets_forwarded_total",
			Help: "Total number of datagrams forwarded",
		},
		[]string{"path"},
	)

	// PacketsDroppedTotal counts dropped datagrams by reason
	PacketsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v6rx_packets_dropped_total",
			Help: "Total number of datagrams dropped",
		},
		[]string{"reason"},
	)

	// ICMPErrorsTotal counts ICMPv6 errors requested by the engine
	ICMPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v6rx_icmp_errors_total",
			Help: "Total number of ICMPv6 error messages emitted",
		},
		[]string{"type", "code"},
	)

	// ICMPSuppressedTotal counts ICMPv6 errors withheld by the sender
	ICMPSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v6rx_icmp_suppressed_total",
			Help: "Total number of ICMPv6 errors suppressed",
		},
		[]string{"reason"},
	)

	// ReassemblyRecords tracks datagrams awaiting reassembly
	ReassemblyRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "v6rx_reassembly_records",
			Help: "Number of datagrams awaiting reassembly",
		},
	)

	// ReassemblyBytes tracks bytes held by the reassembly store
	ReassemblyBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "v6rx_reassembly_bytes",
			Help: "Bytes currently held by the reassembly store",
		},
	)

	// ReassemblyEvictionsTotal counts records evicted to stay under quota
	ReassemblyEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "v6rx_reassembly_evictions_total",
			Help: "Total number of reassembly records evicted by the quota",
		},
	)

	// ReassemblyTimeoutsTotal counts records expired by the timeout sweep
	ReassemblyTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "v6rx_reassembly_timeouts_total",
			Help: "Total number of reassembly records expired",
		},
	)

	// ReassembledTotal counts datagrams rebuilt from fragments
	ReassembledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "v6rx_reassembled_total",
			Help: "Total number of datagrams reassembled from fragments",
		},
	)

	// SchedulerQueueDepth tracks deferred work waiting for a worker
	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "v6rx_scheduler_queue_depth",
			Help: "Number of deferred jobs waiting for a worker",
		},
	)

	// ReplayLatencySeconds measures per-frame engine latency during replay
	ReplayLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "v6rx_replay_frame_latency_seconds",
			Help:    "Engine processing latency per replayed frame in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)
)
