package arpctl

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender is a hermetic stub of the datalink layer: it records every
// frame handed to it instead of opening a real pcap handle.
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingSender) SendFrame(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]byte(nil), frame...)
	r.frames = append(r.frames, cp)
	return nil
}

func (r *recordingSender) Close() {}

func (r *recordingSender) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

func decodeARP(t *testing.T, frame []byte) (*layers.Ethernet, *layers.ARP) {
	t.Helper()
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	arp, ok := packet.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.True(t, ok)
	return eth, arp
}

func newTestController(sender *recordingSender) *Controller {
	localMAC, _ := net.ParseMAC("11:22:33:44:55:66")
	localIP := net.ParseIP("192.168.1.10").To4()

	c := New("eth0", localMAC, localIP)
	c.newSender = func(string) (FrameSender, error) { return sender, nil }
	return c
}

func TestCutEmitsPoisonPairToTargetAndGateway(t *testing.T) {
	sender := &recordingSender{}
	c := newTestController(sender)
	require.NoError(t, c.SetGateway(net.ParseIP("192.168.1.1"), "aa:bb:cc:dd:ee:ff"))

	err := c.Cut(net.ParseIP("192.168.1.50"), "de:ad:be:ef:00:01")
	require.NoError(t, err)
	defer c.stopLoop()

	frames := sender.snapshot()
	require.Len(t, frames, 2)

	toTarget, arpToTarget := decodeARP(t, frames[0])
	assert.Equal(t, "11:22:33:44:55:66", toTarget.SrcMAC.String())
	assert.Equal(t, "de:ad:be:ef:00:01", toTarget.DstMAC.String())
	assert.Equal(t, "192.168.1.1", net.IP(arpToTarget.SourceProtAddress).String())
	assert.Equal(t, "11:22:33:44:55:66", net.HardwareAddr(arpToTarget.SourceHwAddress).String())

	toGateway, arpToGateway := decodeARP(t, frames[1])
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", toGateway.DstMAC.String())
	assert.Equal(t, "192.168.1.50", net.IP(arpToGateway.SourceProtAddress).String())
	assert.Equal(t, "11:22:33:44:55:66", net.HardwareAddr(arpToGateway.SourceHwAddress).String())

	assert.True(t, c.IsCut(net.ParseIP("192.168.1.50")))
}

func TestRestoreSendsThreeBurstsWithTrueMACs(t *testing.T) {
	sender := &recordingSender{}
	c := newTestController(sender)
	require.NoError(t, c.SetGateway(net.ParseIP("192.168.1.1"), "aa:bb:cc:dd:ee:ff"))
	require.NoError(t, c.Cut(net.ParseIP("192.168.1.50"), "de:ad:be:ef:00:01"))

	sender.mu.Lock()
	sender.frames = nil // discard the initial poison pair
	sender.mu.Unlock()

	require.NoError(t, c.Restore(net.ParseIP("192.168.1.50")))

	frames := sender.snapshot()
	require.Len(t, frames, restoreBursts*2)

	_, arpToTarget := decodeARP(t, frames[0])
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", net.HardwareAddr(arpToTarget.SourceHwAddress).String())

	_, arpToGateway := decodeARP(t, frames[1])
	assert.Equal(t, "de:ad:be:ef:00:01", net.HardwareAddr(arpToGateway.SourceHwAddress).String())

	assert.False(t, c.IsCut(net.ParseIP("192.168.1.50")))
}

func TestCutRejectsSelf(t *testing.T) {
	sender := &recordingSender{}
	c := newTestController(sender)
	require.NoError(t, c.SetGateway(net.ParseIP("192.168.1.1"), "aa:bb:cc:dd:ee:ff"))

	err := c.Cut(net.ParseIP("192.168.1.10"), "de:ad:be:ef:00:01")
	require.Error(t, err)
}

func TestCutRejectsGateway(t *testing.T) {
	sender := &recordingSender{}
	c := newTestController(sender)
	require.NoError(t, c.SetGateway(net.ParseIP("192.168.1.1"), "aa:bb:cc:dd:ee:ff"))

	err := c.Cut(net.ParseIP("192.168.1.1"), "aa:bb:cc:dd:ee:ff")
	require.Error(t, err)
}

func TestCutRequiresGatewayConfigured(t *testing.T) {
	sender := &recordingSender{}
	c := newTestController(sender)

	err := c.Cut(net.ParseIP("192.168.1.50"), "de:ad:be:ef:00:01")
	require.Error(t, err)
}

func TestRestoreUnknownIPIsNoop(t *testing.T) {
	sender := &recordingSender{}
	c := newTestController(sender)

	err := c.Restore(net.ParseIP("192.168.1.99"))
	require.NoError(t, err)
	assert.Empty(t, sender.snapshot())
}

func TestPoisonLoopRetransmits(t *testing.T) {
	sender := &recordingSender{}
	c := newTestController(sender)
	require.NoError(t, c.SetGateway(net.ParseIP("192.168.1.1"), "aa:bb:cc:dd:ee:ff"))
	require.NoError(t, c.Cut(net.ParseIP("192.168.1.50"), "de:ad:be:ef:00:01"))
	defer func() {
		_ = c.Restore(net.ParseIP("192.168.1.50"))
	}()

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) >= 4 // initial pair + at least one retransmit pair
	}, 3*time.Second, 50*time.Millisecond)
}
