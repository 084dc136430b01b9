// Package monitor runs a background L2 capture pipeline that credits
// per-host byte/packet counters for IPv4 traffic among local-network hosts,
// and derives a simple bandwidth estimate from the most recent observation.
package monitor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/logger"
	"github.com/lanctl/netsnip/internal/metrics"
)

const staleAfter = 60 * time.Second

// HostTraffic holds cumulative byte/packet counters for one local-network
// IPv4 address.
type HostTraffic struct {
	IP               net.IP
	BytesSent        uint64
	BytesReceived    uint64
	PacketsSent      uint64
	PacketsReceived  uint64
	LastUpdate       time.Time
}

// packetSource abstracts the capture channel so tests can feed synthetic
// frames without opening a live pcap handle.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Close()
}

func openLiveSource(ifName string) (packetSource, error) {
	handle, err := pcap.OpenLive(ifName, 65536, true, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// SourceFactory opens a fresh packetSource for the capture loop. A field so
// tests can inject a stub.
type SourceFactory func(ifName string) (packetSource, error)

// Monitor owns the HostTraffic map and the capture-loop lifecycle.
type Monitor struct {
	ifName    string
	localIP   net.IP
	newSource SourceFactory
	logger    *logger.Logger

	mu      sync.Mutex
	traffic map[string]*HostTraffic
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Monitor bound to ifName/localIP.
func New(ifName string, localIP net.IP) *Monitor {
	return &Monitor{
		ifName:    ifName,
		localIP:   localIP,
		newSource: openLiveSource,
		logger:    logger.NewComponentLogger("monitor"),
		traffic:   make(map[string]*HostTraffic),
	}
}

// Start opens the capture channel and begins the background loop. Fails
// AlreadyRunning if already started, or CaptureUnavailable if the channel
// cannot be opened (typically insufficient privilege).
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return apperrors.New(apperrors.AlreadyRunning, "start", "packet monitor already running")
	}
	m.mu.Unlock()

	source, err := m.newSource(m.ifName)
	if err != nil {
		return apperrors.Wrap(apperrors.CaptureUnavailable, "start", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.running = true
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.captureLoop(ctx, source, done)
	return nil
}

// Stop idempotently halts the capture loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the capture loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) captureLoop(ctx context.Context, source packetSource, done chan struct{}) {
	defer close(done)
	defer source.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, _, err := source.ReadPacketData()
		if err != nil {
			continue // capture timeout or transient read error; re-check ctx
		}

		m.ingest(data)
	}
}

func (m *Monitor) ingest(data []byte) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return
	}
	eth, _ := ethLayer.(*layers.Ethernet)
	if eth == nil || eth.EthernetType != layers.EthernetTypeIPv4 {
		return
	}

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return
	}
	ip4, _ := ipLayer.(*layers.IPv4)
	if ip4 == nil {
		return
	}

	totalLength := uint64(ip4.Length)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isLocalTraffic(ip4.SrcIP) {
		entry := m.getOrCreateLocked(ip4.SrcIP)
		entry.BytesSent += totalLength
		entry.PacketsSent++
		entry.LastUpdate = now
		metrics.MonitoredBytes.WithLabelValues("sent").Add(float64(totalLength))
	}
	if m.isLocalTraffic(ip4.DstIP) {
		entry := m.getOrCreateLocked(ip4.DstIP)
		entry.BytesReceived += totalLength
		entry.PacketsReceived++
		entry.LastUpdate = now
		metrics.MonitoredBytes.WithLabelValues("received").Add(float64(totalLength))
	}
}

func (m *Monitor) isLocalTraffic(ip net.IP) bool {
	if ip.Equal(m.localIP) {
		return false
	}
	return isRFC1918(ip) || isLinkLocal(ip)
}

func (m *Monitor) getOrCreateLocked(ip net.IP) *HostTraffic {
	key := ip.String()
	entry, ok := m.traffic[key]
	if !ok {
		entry = &HostTraffic{IP: append(net.IP(nil), ip...)}
		m.traffic[key] = entry
	}
	return entry
}

// Traffic returns a copy of the HostTraffic entry for ip, if any.
func (m *Monitor) Traffic(ip string) (HostTraffic, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.traffic[ip]
	if !ok {
		return HostTraffic{}, false
	}
	return *entry, true
}

// AllTraffic returns a copy of every tracked HostTraffic entry, keyed by IP.
func (m *Monitor) AllTraffic() map[string]HostTraffic {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HostTraffic, len(m.traffic))
	for k, v := range m.traffic {
		out[k] = *v
	}
	return out
}

// BandwidthMbps computes the Mbps estimate for ip: all bytes sent and
// received since the entry was created (or last Reset), over the time since
// its most recent observation. Returns false if there is no entry or the
// entry is stale (Δt ≤ 0 or Δt ≥ 60s).
func (m *Monitor) BandwidthMbps(ip string) (float64, bool) {
	m.mu.Lock()
	var entry HostTraffic
	current, ok := m.traffic[ip]
	if ok {
		entry = *current
	}
	m.mu.Unlock()
	if !ok {
		return 0, false
	}

	delta := time.Since(entry.LastUpdate)
	if delta <= 0 || delta >= staleAfter {
		return 0, false
	}

	totalBits := float64(entry.BytesSent+entry.BytesReceived) * 8
	mbps := totalBits / (delta.Seconds() * 1_000_000)
	return mbps, true
}

// Reset clears all tracked traffic counters.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traffic = make(map[string]*HostTraffic)
}

func isRFC1918(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	switch {
	case v4[0] == 10:
		return true
	case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
		return true
	case v4[0] == 192 && v4[1] == 168:
		return true
	}
	return false
}

func isLinkLocal(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4[0] == 169 && v4[1] == 254
}
