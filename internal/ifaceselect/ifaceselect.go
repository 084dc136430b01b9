// Package ifaceselect detects the single network interface netsnip operates
// on: its name, hardware address, IPv4 address, and subnet prefix length.
//
// Detection runs once at startup (or on demand via Select) and exposes the
// result through a thread-safe Selector so every other component reads a
// consistent view of the active interface.
package ifaceselect

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/logger"
)

// Selection is the resolved network binding netsnip operates against.
type Selection struct {
	IfName     string
	LocalMAC   net.HardwareAddr
	LocalIPv4  net.IP
	PrefixLen  int
}

// Selector detects and caches the active interface, with thread-safe access.
type Selector struct {
	mu        sync.RWMutex
	selection *Selection
	logger    *logger.Logger

	preferred []string // interface names preferred during auto-detection
}

// New creates a Selector. If preferredName is non-empty, Select first tries
// interfaces whose name equals or starts with it, and falls back to
// auto-detection when none of those is usable.
func New(preferredName string) *Selector {
	s := &Selector{
		logger:    logger.NewComponentLogger("ifaceselect"),
		preferred: []string{"eth0", "en0", "wlan0", "enp", "wlp"},
	}
	if preferredName != "" {
		s.preferred = []string{preferredName}
	}
	return s
}

// Select resolves the interface, caches it, and returns a copy. It fails
// with apperrors.NoInterface if no up, non-loopback interface carries an
// IPv4 address, or if the chosen interface has no hardware address — MAC
// absence is never papered over with zeros.
func (s *Selector) Select() (*Selection, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.NoInterface, "select", fmt.Errorf("list interfaces: %w", err))
	}

	candidate, err := s.pickInterface(ifaces)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.NoInterface, "select", err)
	}

	sel, err := s.resolve(candidate)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.NoInterface, "select", err)
	}

	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()

	s.logger.Info("selected interface %s mac=%s ip=%s/%d", sel.IfName, sel.LocalMAC, sel.LocalIPv4, sel.PrefixLen)
	return s.copySelection(sel), nil
}

// Current returns the cached selection, or nil if Select has not succeeded yet.
func (s *Selector) Current() *Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copySelection(s.selection)
}

func (s *Selector) copySelection(sel *Selection) *Selection {
	if sel == nil {
		return nil
	}
	cp := *sel
	return &cp
}

func (s *Selector) pickInterface(ifaces []net.Interface) (net.Interface, error) {
	usable := func(iface net.Interface) bool {
		return iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0
	}

	for _, name := range s.preferred {
		for _, iface := range ifaces {
			if !usable(iface) {
				continue
			}
			if iface.Name == name || strings.HasPrefix(iface.Name, name) {
				if _, err := ipv4Of(iface); err == nil {
					return iface, nil
				}
			}
		}
	}

	for _, iface := range ifaces {
		if !usable(iface) {
			continue
		}
		if _, err := ipv4Of(iface); err == nil {
			return iface, nil
		}
	}

	return net.Interface{}, fmt.Errorf("no usable network interface found")
}

func (s *Selector) resolve(iface net.Interface) (*Selection, error) {
	ip, prefixLen, err := ipv4AndPrefix(iface)
	if err != nil {
		return nil, err
	}

	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface %s has no hardware address", iface.Name)
	}

	return &Selection{
		IfName:    iface.Name,
		LocalMAC:  iface.HardwareAddr,
		LocalIPv4: ip,
		PrefixLen: prefixLen,
	}, nil
}

func ipv4Of(iface net.Interface) (net.IP, error) {
	ip, _, err := ipv4AndPrefix(iface)
	return ip, err
}

func ipv4AndPrefix(iface net.Interface) (net.IP, int, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, 0, err
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			ones, _ := ipNet.Mask.Size()
			return v4, ones, nil
		}
	}

	return nil, 0, fmt.Errorf("no IPv4 address on interface %s", iface.Name)
}
