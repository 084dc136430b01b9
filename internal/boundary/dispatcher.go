// Package boundary exposes the operations the presentation layer drives:
// scanning, cutting/restoring devices, bandwidth limits, and settings. It
// validates all external input, translates device_id to/from canonical MAC,
// and is the only layer that talks to the storage collaborator.
package boundary

import (
	"html"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/arpctl"
	"github.com/lanctl/netsnip/internal/ifaceselect"
	"github.com/lanctl/netsnip/internal/limiter"
	"github.com/lanctl/netsnip/internal/logger"
	"github.com/lanctl/netsnip/internal/monitor"
	"github.com/lanctl/netsnip/internal/scanner"
	"github.com/lanctl/netsnip/internal/storage"
	"github.com/lanctl/netsnip/internal/telemetry"
)

const maxDeviceNameLen = 100

// Device is the record surfaced to the presentation layer.
type Device struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	CustomName       string  `json:"custom_name,omitempty"`
	IP               string  `json:"ip"`
	MAC              string  `json:"mac"`
	Manufacturer     string  `json:"manufacturer,omitempty"`
	DeviceType       string  `json:"device_type"`
	Status           string  `json:"status"`
	BandwidthCurrent float64 `json:"bandwidth_current"`
	BandwidthLimit   float64 `json:"bandwidth_limit,omitempty"`
	IsGateway        bool    `json:"is_gateway"`
	IsCurrentDevice  bool    `json:"is_current_device"`
	LastSeen         string  `json:"last_seen"`
}

// NetworkInfo is the response for get_network_info.
type NetworkInfo struct {
	GatewayIP     string `json:"gateway_ip"`
	GatewayMAC    string `json:"gateway_mac"`
	LocalIP       string `json:"local_ip"`
	LocalMAC      string `json:"local_mac"`
	SubnetMask    string `json:"subnet_mask"`
	InterfaceName string `json:"interface_name"`
}

// Result is the generic {success, message} response shape.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BandwidthEntry is one row of get_bandwidth_updates.
type BandwidthEntry struct {
	DeviceID         string  `json:"device_id"`
	BandwidthCurrent float64 `json:"bandwidth_current"`
}

// Dispatcher wires the core components to the boundary operations.
type Dispatcher struct {
	selection  *ifaceselect.Selection
	scanner    *scanner.Scanner
	arpctl     *arpctl.Controller
	monitor    *monitor.Monitor
	limiter    *limiter.Limiter
	aggregator *telemetry.Aggregator
	store      storage.DeviceStore
	logger     *logger.Logger
}

// New wires every collaborator into a Dispatcher.
func New(
	selection *ifaceselect.Selection,
	sc *scanner.Scanner,
	ac *arpctl.Controller,
	mon *monitor.Monitor,
	lim *limiter.Limiter,
	store storage.DeviceStore,
) *Dispatcher {
	return &Dispatcher{
		selection:  selection,
		scanner:    sc,
		arpctl:     ac,
		monitor:    mon,
		limiter:    lim,
		aggregator: telemetry.NewAggregator(sc, ac, mon),
		store:      store,
		logger:     logger.NewComponentLogger("boundary"),
	}
}

// ScanNetwork triggers a rescan and returns the resulting device list.
func (d *Dispatcher) ScanNetwork() ([]Device, error) {
	hosts, err := d.scanner.Scan()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(hosts))
	for _, h := range hosts {
		dev := d.toDevice(h)
		devices = append(devices, dev)

		if d.store != nil {
			_ = d.store.UpsertDevice(storage.DeviceRecord{
				ID:           dev.ID,
				MAC:          h.MAC,
				IP:           h.IP.String(),
				Hostname:     h.Hostname,
				Manufacturer: h.Vendor,
				DeviceType:   string(h.DeviceType),
				FirstSeen:    time.Now(),
				LastSeen:     time.Now(),
			})
		}
	}

	return devices, nil
}

// GetNetworkInfo reports the bound interface and gateway, with empty
// strings where unknown.
func (d *Dispatcher) GetNetworkInfo() NetworkInfo {
	gatewayIP, gatewayMAC := d.scanner.Gateway()

	gwIPStr := ""
	if gatewayIP != nil && !gatewayIP.Equal(net.IPv4zero) {
		gwIPStr = gatewayIP.String()
	}

	return NetworkInfo{
		GatewayIP:     gwIPStr,
		GatewayMAC:    gatewayMAC,
		LocalIP:       d.selection.LocalIPv4.String(),
		LocalMAC:      d.selection.LocalMAC.String(),
		SubnetMask:    net.CIDRMask(d.selection.PrefixLen, 32).String(),
		InterfaceName: d.selection.IfName,
	}
}

// CutDevice severs deviceID's connectivity via ARP poisoning.
func (d *Dispatcher) CutDevice(deviceID string) (Result, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Result{}, err
	}

	host, ok := d.scanner.HostByDeviceID(deviceID)
	if !ok {
		return Result{}, apperrors.New(apperrors.DeviceNotFound, "cut_device", "unknown device_id")
	}

	if err := d.arpctl.Cut(host.IP, host.MAC); err != nil {
		return Result{}, err
	}

	if d.store != nil {
		_ = d.store.RecordEvent(storage.NetworkEvent{
			EventType: storage.EventDeviceCut,
			DeviceID:  deviceID,
			Timestamp: time.Now(),
		})
	}

	return Result{Success: true, Message: "device cut"}, nil
}

// RestoreDevice reverses a prior CutDevice.
func (d *Dispatcher) RestoreDevice(deviceID string) (Result, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Result{}, err
	}

	host, ok := d.scanner.HostByDeviceID(deviceID)
	if !ok {
		return Result{}, apperrors.New(apperrors.DeviceNotFound, "restore_device", "unknown device_id")
	}

	if err := d.arpctl.Restore(host.IP); err != nil {
		return Result{}, err
	}

	if d.store != nil {
		_ = d.store.RecordEvent(storage.NetworkEvent{
			EventType: storage.EventDeviceRestored,
			DeviceID:  deviceID,
			Timestamp: time.Now(),
		})
	}

	return Result{Success: true, Message: "device restored"}, nil
}

// LimitBandwidth installs a token-bucket cap for deviceID.
func (d *Dispatcher) LimitBandwidth(deviceID string, limitMbps float64) (Result, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Result{}, err
	}
	if limitMbps <= 0 || limitMbps > 10000 {
		return Result{}, apperrors.New(apperrors.InvalidInput, "limit_bandwidth", "limit_mbps must be in (0, 10000]")
	}

	host, ok := d.scanner.HostByDeviceID(deviceID)
	if !ok {
		return Result{}, apperrors.New(apperrors.DeviceNotFound, "limit_bandwidth", "unknown device_id")
	}

	if err := d.limiter.SetLimit(host.IP, limitMbps); err != nil {
		return Result{}, err
	}

	if d.store != nil {
		_ = d.store.RecordEvent(storage.NetworkEvent{
			EventType: storage.EventLimitSet,
			DeviceID:  deviceID,
			Timestamp: time.Now(),
		})
	}

	return Result{Success: true, Message: "bandwidth limit applied"}, nil
}

// RemoveBandwidthLimit clears a prior LimitBandwidth.
func (d *Dispatcher) RemoveBandwidthLimit(deviceID string) (Result, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Result{}, err
	}

	host, ok := d.scanner.HostByDeviceID(deviceID)
	if !ok {
		return Result{}, apperrors.New(apperrors.DeviceNotFound, "remove_bandwidth_limit", "unknown device_id")
	}

	d.limiter.ClearLimit(host.IP)

	if d.store != nil {
		_ = d.store.RecordEvent(storage.NetworkEvent{
			EventType: storage.EventLimitCleared,
			DeviceID:  deviceID,
			Timestamp: time.Now(),
		})
	}

	return Result{Success: true, Message: "bandwidth limit removed"}, nil
}

// UpdateDeviceName sets a custom display name for deviceID, HTML-escaped
// before persistence.
func (d *Dispatcher) UpdateDeviceName(deviceID, name string) error {
	if err := validateDeviceID(deviceID); err != nil {
		return err
	}
	if utf8.RuneCountInString(name) > maxDeviceNameLen {
		return apperrors.New(apperrors.InvalidInput, "update_device_name", "name exceeds 100 characters")
	}

	host, ok := d.scanner.HostByDeviceID(deviceID)
	if !ok {
		return apperrors.New(apperrors.DeviceNotFound, "update_device_name", "unknown device_id")
	}

	escaped := html.EscapeString(name)

	if d.store != nil {
		rec, found, err := d.store.GetDevice(deviceID)
		if err != nil {
			return err
		}
		if !found {
			rec = storage.DeviceRecord{ID: deviceID, MAC: host.MAC, IP: host.IP.String(), FirstSeen: time.Now()}
		}
		rec.CustomName = escaped
		rec.LastSeen = time.Now()
		return d.store.UpsertDevice(rec)
	}

	return nil
}

// GetBandwidthUpdates returns the synthesized telemetry snapshot.
func (d *Dispatcher) GetBandwidthUpdates() []BandwidthEntry {
	updates := d.aggregator.BandwidthUpdates()
	out := make([]BandwidthEntry, len(updates))
	for i, u := range updates {
		out[i] = BandwidthEntry{DeviceID: u.DeviceID, BandwidthCurrent: u.BandwidthCurrent}
	}
	return out
}

// GetSetting reads one key from the settings collaborator.
func (d *Dispatcher) GetSetting(key string) (string, bool, error) {
	if d.store == nil {
		return "", false, nil
	}
	return d.store.GetSetting(key)
}

// UpdateSetting writes one key to the settings collaborator.
func (d *Dispatcher) UpdateSetting(key, value string) error {
	if d.store == nil {
		return nil
	}
	return d.store.SetSetting(key, value)
}

func (d *Dispatcher) toDevice(h scanner.DiscoveredHost) Device {
	status := "active"
	if d.arpctl != nil && d.arpctl.IsCut(h.IP) {
		status = "cut"
	}

	bandwidth := 0.0
	if d.monitor != nil && d.monitor.IsRunning() {
		if mbps, ok := d.monitor.BandwidthMbps(h.IP.String()); ok {
			bandwidth = mbps
		}
	}
	if d.arpctl != nil && d.arpctl.IsCut(h.IP) {
		bandwidth = 0.0
	}

	isCurrent := d.selection != nil && h.IP.Equal(d.selection.LocalIPv4)

	var customName string
	if d.store != nil {
		if rec, found, err := d.store.GetDevice(h.DeviceID()); err == nil && found {
			customName = rec.CustomName
		}
	}

	var limitMbps float64
	if d.limiter != nil {
		if mbps, ok := d.limiter.GetLimit(h.IP); ok {
			limitMbps = mbps
		}
	}

	return Device{
		ID:               h.DeviceID(),
		Name:             h.Hostname,
		CustomName:       customName,
		IP:               h.IP.String(),
		MAC:              h.MAC,
		Manufacturer:     h.Vendor,
		DeviceType:       string(h.DeviceType),
		Status:           status,
		BandwidthCurrent: bandwidth,
		BandwidthLimit:   limitMbps,
		IsGateway:        h.IsGateway,
		IsCurrentDevice:  isCurrent,
		LastSeen:         time.Now().Format(time.RFC3339),
	}
}

func validateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.New(apperrors.InvalidInput, "validate_device_id", "device_id must not be empty")
	}
	return nil
}
