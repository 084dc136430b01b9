// Package telemetry synthesizes the BandwidthUpdate stream by combining the
// scanner's snapshot, the packet monitor's throughput readings, and the ARP
// controller's cut-set, then broadcasts it to connected presentation-layer
// clients over a websocket hub.
package telemetry

import (
	"net"

	"github.com/lanctl/netsnip/internal/arpctl"
	"github.com/lanctl/netsnip/internal/monitor"
	"github.com/lanctl/netsnip/internal/scanner"
)

// BandwidthUpdate is the synthesized per-host telemetry record.
type BandwidthUpdate struct {
	DeviceID         string
	BandwidthCurrent float64
}

// hostLister is the subset of *scanner.Scanner the aggregator depends on.
type hostLister interface {
	GetCached() []scanner.DiscoveredHost
}

// cutChecker is the subset of *arpctl.Controller the aggregator depends on.
type cutChecker interface {
	IsCut(ip net.IP) bool
}

// bandwidthReader is the subset of *monitor.Monitor the aggregator depends on.
type bandwidthReader interface {
	IsRunning() bool
	BandwidthMbps(ip string) (float64, bool)
}

// Aggregator computes BandwidthUpdate lists by precedence: an active cut
// forces 0.0; else a fresh monitor reading; else the host is omitted.
type Aggregator struct {
	scanner hostLister
	arpctl  cutChecker
	monitor bandwidthReader
}

// NewAggregator wires the three collaborators together.
func NewAggregator(sc *scanner.Scanner, ac *arpctl.Controller, mon *monitor.Monitor) *Aggregator {
	a := &Aggregator{scanner: sc}
	if ac != nil {
		a.arpctl = ac
	}
	if mon != nil {
		a.monitor = mon
	}
	return a
}

// BandwidthUpdates computes the current telemetry snapshot.
func (a *Aggregator) BandwidthUpdates() []BandwidthUpdate {
	hosts := a.scanner.GetCached()
	updates := make([]BandwidthUpdate, 0, len(hosts))

	for _, h := range hosts {
		if a.arpctl != nil && a.arpctl.IsCut(hostIP(h)) {
			updates = append(updates, BandwidthUpdate{DeviceID: h.DeviceID(), BandwidthCurrent: 0.0})
			continue
		}

		if a.monitor == nil || !a.monitor.IsRunning() {
			continue
		}

		mbps, ok := a.monitor.BandwidthMbps(h.IP.String())
		if !ok {
			continue
		}

		updates = append(updates, BandwidthUpdate{DeviceID: h.DeviceID(), BandwidthCurrent: mbps})
	}

	return updates
}

func hostIP(h scanner.DiscoveredHost) net.IP {
	return h.IP
}
