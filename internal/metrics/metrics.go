// Package metrics defines the Prometheus metrics exported by netsnip. All
// metrics use the "netsnip_" namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netsnip"

var (
	// ScansTotal counts subnet scans by outcome.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Total subnet scans performed, by result.",
	}, []string{"result"})

	// ScanDuration tracks how long a subnet scan takes.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Subnet scan duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	})

	// DevicesDiscovered is a gauge of hosts found in the most recent scan.
	DevicesDiscovered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "devices_discovered",
		Help:      "Number of devices discovered in the most recent scan.",
	})

	// CutOperations counts cut/restore operations by kind and outcome.
	CutOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cut_operations_total",
		Help:      "Total ARP cut/restore operations, by operation and result.",
	}, []string{"operation", "result"})

	// DevicesCut is a gauge of currently active cuts.
	DevicesCut = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "devices_cut",
		Help:      "Number of devices currently cut from the network.",
	})

	// ARPFramesSent counts poison/restore ARP frames sent.
	ARPFramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_frames_sent_total",
		Help:      "Total ARP frames sent, by purpose.",
	}, []string{"purpose"})

	// BandwidthLimitsActive is a gauge of devices with an active rate limit.
	BandwidthLimitsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bandwidth_limits_active",
		Help:      "Number of devices with an active bandwidth limit.",
	})

	// PacketsDropped counts packets dropped by the token-bucket limiter.
	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "limiter_packets_dropped_total",
		Help:      "Total packets dropped by the bandwidth limiter, by device.",
	}, []string{"device_id"})

	// MonitoredBytes counts bytes observed by the packet monitor.
	MonitoredBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monitor_bytes_total",
		Help:      "Total bytes observed by the packet monitor, by direction.",
	}, []string{"direction"})

	// APIRequests counts HTTP boundary requests.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total HTTP API requests, by route and status.",
	}, []string{"route", "status"})

	// WebsocketClients is a gauge of connected telemetry websocket clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Number of connected telemetry websocket clients.",
	})
)
