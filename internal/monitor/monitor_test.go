package monitor

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticSource is a hermetic stub of the datalink layer: it serves a
// channel of pre-built frames instead of opening a live pcap handle and, like
// a pcap handle with a read timeout, returns an error when no frame arrives
// in time so the capture loop can notice Stop.
type syntheticSource struct {
	frames chan []byte
	closed chan struct{}
}

func newSyntheticSource() *syntheticSource {
	return &syntheticSource{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *syntheticSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case data, ok := <-s.frames:
		if !ok {
			return nil, gopacket.CaptureInfo{}, errors.New("source closed")
		}
		return data, gopacket.CaptureInfo{}, nil
	case <-s.closed:
		return nil, gopacket.CaptureInfo{}, errors.New("source closed")
	case <-time.After(50 * time.Millisecond):
		return nil, gopacket.CaptureInfo{}, errors.New("read timeout")
	}
}

func (s *syntheticSource) Close() {}

func (s *syntheticSource) push(frame []byte) { s.frames <- frame }

func buildIPv4Frame(t *testing.T, srcIP, dstIP string, payloadLen int) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	udp := &layers.UDP{SrcPort: 1234, DstPort: 5678}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip4))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payload := gopacket.Payload(make([]byte, payloadLen))
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip4, udp, payload))
	return buf.Bytes()
}

func newTestMonitor(source *syntheticSource) *Monitor {
	m := New("eth0", net.ParseIP("192.168.1.10"))
	m.newSource = func(string) (packetSource, error) { return source, nil }
	return m
}

func TestMonitorCreditsSentAndReceivedBytes(t *testing.T) {
	source := newSyntheticSource()
	m := newTestMonitor(source)
	require.NoError(t, m.Start())
	defer m.Stop()

	frame := buildIPv4Frame(t, "192.168.1.50", "192.168.1.60", 100)
	source.push(frame)

	require.Eventually(t, func() bool {
		_, ok := m.Traffic("192.168.1.50")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	sent, ok := m.Traffic("192.168.1.50")
	require.True(t, ok)
	assert.Equal(t, uint64(1), sent.PacketsSent)
	assert.NotZero(t, sent.BytesSent)

	received, ok := m.Traffic("192.168.1.60")
	require.True(t, ok)
	assert.Equal(t, uint64(1), received.PacketsReceived)
}

func TestMonitorIgnoresLocalAndNonPrivateTraffic(t *testing.T) {
	source := newSyntheticSource()
	m := newTestMonitor(source)
	require.NoError(t, m.Start())
	defer m.Stop()

	// Local interface's own IP must never be credited.
	source.push(buildIPv4Frame(t, "192.168.1.10", "192.168.1.60", 50))
	// Public, non-RFC1918 traffic must not be credited either.
	source.push(buildIPv4Frame(t, "8.8.8.8", "1.1.1.1", 50))
	// A known-private packet as a sentinel that ingestion did proceed.
	source.push(buildIPv4Frame(t, "192.168.1.77", "192.168.1.78", 50))

	require.Eventually(t, func() bool {
		_, ok := m.Traffic("192.168.1.77")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := m.Traffic("192.168.1.10")
	assert.False(t, ok)
	_, ok = m.Traffic("8.8.8.8")
	assert.False(t, ok)
}

func TestStartFailsWhenAlreadyRunning(t *testing.T) {
	source := newSyntheticSource()
	m := newTestMonitor(source)
	require.NoError(t, m.Start())
	defer m.Stop()

	err := m.Start()
	require.Error(t, err)
}

func TestBandwidthMbpsAbsentWithoutRecentTraffic(t *testing.T) {
	m := New("eth0", net.ParseIP("192.168.1.10"))
	_, ok := m.BandwidthMbps("192.168.1.50")
	assert.False(t, ok)
}
