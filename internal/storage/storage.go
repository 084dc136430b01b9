// Package storage defines the persistence collaborator the core consumes:
// a relational record of discovered devices, network events, and settings.
// The core depends only on the DeviceStore interface; SQLiteStore is the
// reference implementation.
package storage

import "time"

// DeviceRecord is one row of the devices table.
type DeviceRecord struct {
	ID             string // PK, same as DeviceID
	MAC            string // UNIQUE
	IP             string
	Hostname       string
	CustomName     string
	Manufacturer   string
	DeviceType     string
	FirstSeen      time.Time
	LastSeen       time.Time
	TotalBytes     uint64
	IsBlocked      bool
	BandwidthLimit float64 // 0 means unset
}

// EventType enumerates the kinds of network_events rows the core records.
type EventType string

const (
	EventDeviceDiscovered EventType = "device_discovered"
	EventDeviceCut        EventType = "device_cut"
	EventDeviceRestored   EventType = "device_restored"
	EventLimitSet         EventType = "limit_set"
	EventLimitCleared     EventType = "limit_cleared"
)

// NetworkEvent is one row of the network_events table.
type NetworkEvent struct {
	ID        int64
	EventType EventType
	DeviceID  string
	Timestamp time.Time
	Details   string
}

// DeviceStore is the persistence interface the core depends on. It requires
// only upsert-by-MAC semantics for devices; the engine behind it is
// otherwise opaque to the core.
type DeviceStore interface {
	UpsertDevice(rec DeviceRecord) error
	GetDevice(id string) (DeviceRecord, bool, error)
	ListDevices() ([]DeviceRecord, error)
	RecordEvent(evt NetworkEvent) error

	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error
}
