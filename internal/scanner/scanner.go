// Package scanner discovers hosts on the local IPv4 subnet by combining an
// OS ARP-table read with a bounded-concurrency ICMP sweep, then caches the
// resulting snapshot for the rest of the system to consume.
package scanner

import (
	"bufio"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/ifaceselect"
	"github.com/lanctl/netsnip/internal/logger"
	"github.com/lanctl/netsnip/internal/metrics"
	"github.com/lanctl/netsnip/internal/vendor"
)

const maxConcurrentProbes = 30

// DiscoveredHost is one entry in a scan snapshot.
type DiscoveredHost struct {
	IP         net.IP
	MAC        string // canonical lowercase colon-separated
	Hostname   string
	Vendor     string
	DeviceType vendor.DeviceType
	IsGateway  bool
}

// DeviceID is the MAC with ':' replaced by '_', lowercased.
func (h DiscoveredHost) DeviceID() string {
	return strings.ReplaceAll(strings.ToLower(h.MAC), ":", "_")
}

// Scanner produces and caches DiscoveredHost snapshots for the bound subnet.
type Scanner struct {
	selection  *ifaceselect.Selection
	classifier vendor.Classifier
	resolver   *hostnameResolver
	logger     *logger.Logger

	mu         sync.RWMutex
	snapshot   []DiscoveredHost
	gatewayIP  net.IP
	gatewayMAC string
}

// New creates a Scanner bound to selection, using classifier for
// vendor/device-type enrichment.
func New(selection *ifaceselect.Selection, classifier vendor.Classifier) *Scanner {
	return &Scanner{
		selection:  selection,
		classifier: classifier,
		resolver:   newHostnameResolver(2 * time.Second),
		logger:     logger.NewComponentLogger("scanner"),
		gatewayIP:  net.IPv4zero,
	}
}

// Scan performs the full discovery algorithm and atomically replaces the
// cached snapshot. Returns apperrors.ScanFailed if the ARP table cannot be
// read at all.
func (s *Scanner) Scan() ([]DiscoveredHost, error) {
	start := time.Now()
	defer func() {
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	network := &net.IPNet{
		IP:   s.selection.LocalIPv4.Mask(net.CIDRMask(s.selection.PrefixLen, 32)),
		Mask: net.CIDRMask(s.selection.PrefixLen, 32),
	}

	gatewayIP, gatewayMAC := s.lookupGateway()

	entries, err := readARPTable(network)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(apperrors.ScanFailed, "scan", err)
	}

	byIP := make(map[string]arpEntry, len(entries))
	for _, e := range entries {
		byIP[e.ip.String()] = e
	}

	var wg sync.WaitGroup
	for _, ip := range hostAddresses(network) {
		if _, known := byIP[ip.String()]; known {
			continue
		}
		wg.Add(1)
		go func(ip net.IP) {
			defer wg.Done()
			s.probeAsync(ip)
		}(ip)
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)

	second, err := readARPTable(network)
	if err == nil {
		for _, e := range second {
			byIP[e.ip.String()] = e
		}
	}

	hosts := make([]DiscoveredHost, 0, len(byIP))
	for _, e := range byIP {
		host := s.buildHost(e, gatewayIP)
		hosts = append(hosts, host)
	}

	s.mu.Lock()
	s.snapshot = hosts
	s.gatewayIP = gatewayIP
	s.gatewayMAC = gatewayMAC
	s.mu.Unlock()

	metrics.ScansTotal.WithLabelValues("ok").Inc()
	metrics.DevicesDiscovered.Set(float64(len(hosts)))

	s.logger.Info("scan complete: %d hosts, gateway=%s", len(hosts), gatewayIP)
	return hosts, nil
}

func (s *Scanner) buildHost(e arpEntry, gatewayIP net.IP) DiscoveredHost {
	mac := canonicalMAC(e.mac)
	vendorName := s.classifier.LookupVendor(mac)

	hostname := e.hostname
	var services []string
	if hostname == "" {
		if resolved, ok := s.resolver.resolve(e.ip.String()); ok {
			hostname = resolved
		}
	}

	deviceType := s.classifier.ClassifyDevice(vendorName, hostname, services)

	if hostname == "" {
		hostname = fmt.Sprintf("%s-%s", deviceType, lastOctet(e.ip))
	}

	return DiscoveredHost{
		IP:         e.ip,
		MAC:        mac,
		Hostname:   hostname,
		Vendor:     vendorName,
		DeviceType: deviceType,
		IsGateway:  gatewayIP != nil && e.ip.Equal(gatewayIP),
	}
}

// probeAsync issues a single bounded ICMP echo to force ARP resolution; the
// result is discarded, only the side effect on the kernel's ARP cache matters.
func (s *Scanner) probeAsync(ip net.IP) {
	probeSemaphore.acquire()
	defer probeSemaphore.release()

	pinger, err := probing.NewPinger(ip.String())
	if err != nil {
		return
	}
	pinger.Count = 1
	pinger.Timeout = time.Second
	pinger.SetPrivileged(false)
	_ = pinger.Run()
}

// lookupGateway parses the OS default-route output, then resolves the
// gateway's MAC the same way as any other address. With a warning, it
// degrades to (0.0.0.0, "") when no gateway is found, and to the gateway IP
// with an empty MAC when the MAC cannot be resolved.
func (s *Scanner) lookupGateway() (net.IP, string) {
	ip, err := readDefaultGateway()
	if err != nil {
		s.logger.Warn("could not determine default gateway: %v", err)
		return net.IPv4zero, ""
	}

	mac, err := s.resolveMAC(ip)
	if err != nil {
		s.logger.Warn("could not resolve gateway MAC for %s: %v", ip, err)
		return ip, ""
	}

	return ip, mac
}

// resolveMAC forces ARP resolution for ip via one ICMP echo, waits for the
// kernel to populate its cache, then reads the entry back.
func (s *Scanner) resolveMAC(ip net.IP) (string, error) {
	pinger, err := probing.NewPinger(ip.String())
	if err == nil {
		pinger.Count = 1
		pinger.Timeout = time.Second
		pinger.SetPrivileged(false)
		_ = pinger.Run()
	}

	time.Sleep(100 * time.Millisecond)

	mac, err := readARPEntry(ip)
	if err != nil {
		return "", apperrors.Wrap(apperrors.MacUnknown, "resolveMAC", err)
	}
	return mac, nil
}

// GetCached returns the last snapshot without rescanning.
func (s *Scanner) GetCached() []DiscoveredHost {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DiscoveredHost, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// HostByIP looks up a cached host by IPv4 string.
func (s *Scanner) HostByIP(ip string) (DiscoveredHost, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.snapshot {
		if h.IP.String() == ip {
			return h, true
		}
	}
	return DiscoveredHost{}, false
}

// HostByDeviceID looks up a cached host by its boundary-facing device ID,
// ignoring letter case.
func (s *Scanner) HostByDeviceID(id string) (DiscoveredHost, bool) {
	id = strings.ToLower(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.snapshot {
		if h.DeviceID() == id {
			return h, true
		}
	}
	return DiscoveredHost{}, false
}

// Gateway returns the last-resolved gateway IP and MAC.
func (s *Scanner) Gateway() (net.IP, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gatewayIP, s.gatewayMAC
}

// --- ARP table parsing ---

type arpEntry struct {
	ip       net.IP
	mac      string
	hostname string
}

// readARPTable shells out to "arp -a" and parses lines of the form
// "host (ip) at mac on iface [flags]", keeping only entries inside network.
func readARPTable(network *net.IPNet) ([]arpEntry, error) {
	out, err := exec.Command("arp", "-a").Output()
	if err != nil {
		return nil, fmt.Errorf("run arp -a: %w", err)
	}

	var entries []arpEntry
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.Contains(line, "incomplete") {
			continue
		}

		entry, ok := parseARPLine(line)
		if !ok {
			continue
		}
		if !network.Contains(entry.ip) {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// readARPEntry reads a single host's ARP entry, used for gateway/arbitrary
// MAC resolution after forcing a probe.
func readARPEntry(ip net.IP) (string, error) {
	out, err := exec.Command("arp", "-n", ip.String()).Output()
	if err != nil {
		return "", fmt.Errorf("run arp -n %s: %w", ip, err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, ip.String()) {
			continue
		}
		fields := strings.Fields(line)
		for _, f := range fields {
			if strings.Count(f, ":") == 5 {
				return canonicalMAC(f), nil
			}
		}
	}

	entries, err := readARPTable(&net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)})
	if err == nil {
		for _, e := range entries {
			if e.ip.Equal(ip) {
				return e.mac, nil
			}
		}
	}

	return "", fmt.Errorf("no ARP entry for %s", ip)
}

// parseARPLine parses "hostname (ip) at mac on iface [flags]".
func parseARPLine(line string) (arpEntry, bool) {
	open := strings.Index(line, "(")
	close := strings.Index(line, ")")
	if open < 0 || close < 0 || close < open {
		return arpEntry{}, false
	}

	ipStr := line[open+1 : close]
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.To4() == nil {
		return arpEntry{}, false
	}

	atIdx := strings.Index(line, " at ")
	if atIdx < 0 {
		return arpEntry{}, false
	}
	macFields := strings.Fields(line[atIdx+4:])
	if len(macFields) == 0 || !strings.Contains(macFields[0], ":") {
		return arpEntry{}, false
	}
	macStr := macFields[0]

	var hostname string
	if open > 0 {
		hostname = strings.TrimSpace(line[:open])
	}

	return arpEntry{ip: ip.To4(), mac: canonicalMAC(macStr), hostname: hostname}, true
}

// readDefaultGateway parses `ip route` (Linux) output for the default route
// next hop. Falls back to the BSD/macOS `route -n get default` form.
func readDefaultGateway() (net.IP, error) {
	if out, err := exec.Command("ip", "route", "show", "default").Output(); err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			fields := strings.Fields(line)
			for i, f := range fields {
				if f == "via" && i+1 < len(fields) {
					if ip := net.ParseIP(fields[i+1]); ip != nil {
						return ip.To4(), nil
					}
				}
			}
		}
	}

	out, err := exec.Command("route", "-n", "get", "default").Output()
	if err != nil {
		return nil, fmt.Errorf("determine default gateway: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "gateway:") {
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 {
				if ip := net.ParseIP(fields[1]); ip != nil {
					return ip.To4(), nil
				}
			}
		}
	}

	return nil, fmt.Errorf("no default gateway found")
}

func canonicalMAC(mac string) string {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return strings.ToLower(mac)
	}
	return hw.String()
}

func lastOctet(ip net.IP) string {
	v4 := ip.To4()
	if v4 == nil {
		return "0"
	}
	return strconv.Itoa(int(v4[3]))
}

// hostAddresses enumerates every host address in network, excluding the
// network and broadcast addresses.
func hostAddresses(network *net.IPNet) []net.IP {
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil
	}
	hostBits := bits - ones
	if hostBits <= 0 || hostBits > 16 {
		return nil // refuse absurdly large ranges (e.g. misconfigured /0-/8)
	}

	base := network.IP.To4()
	count := 1 << uint(hostBits)

	var ips []net.IP
	for i := 1; i < count-1; i++ {
		ip := make(net.IP, 4)
		copy(ip, base)
		addUint32(ip, uint32(i))
		ips = append(ips, ip)
	}
	return ips
}

func addUint32(ip net.IP, n uint32) {
	val := uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
	val += n
	ip[0] = byte(val >> 24)
	ip[1] = byte(val >> 16)
	ip[2] = byte(val >> 8)
	ip[3] = byte(val)
}

// --- bounded probe concurrency ---

type semaphore chan struct{}

func (s semaphore) acquire() { s <- struct{}{} }
func (s semaphore) release() { <-s }

var probeSemaphore = make(semaphore, maxConcurrentProbes)
