package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	mac TEXT UNIQUE NOT NULL,
	ip TEXT NOT NULL,
	hostname TEXT,
	custom_name TEXT,
	manufacturer TEXT,
	device_type TEXT,
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	is_blocked INTEGER NOT NULL DEFAULT 0,
	bandwidth_limit REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS network_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	device_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	details TEXT
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore is the reference DeviceStore backed by a pure-Go, cgo-free
// SQLite driver — appropriate given netsnip's relational schema (named
// columns, upsert-by-MAC, a small events log), which a key-value embedded
// store would only awkwardly approximate.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *logger.Logger
}

// Open creates (if needed) and opens a SQLite database at path, applying
// the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.StorageFailed, "open", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writes; keep it simple

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.StorageFailed, "open", fmt.Errorf("apply schema: %w", err))
	}

	return &SQLiteStore{db: db, logger: logger.NewComponentLogger("storage")}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertDevice inserts or updates a device row by MAC. An empty CustomName
// keeps the stored one.
func (s *SQLiteStore) UpsertDevice(rec DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO devices (id, mac, ip, hostname, custom_name, manufacturer, device_type, first_seen, last_seen, total_bytes, is_blocked, bandwidth_limit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			ip = excluded.ip,
			hostname = excluded.hostname,
			custom_name = COALESCE(NULLIF(excluded.custom_name, ''), devices.custom_name),
			manufacturer = excluded.manufacturer,
			device_type = excluded.device_type,
			last_seen = excluded.last_seen,
			total_bytes = excluded.total_bytes,
			is_blocked = excluded.is_blocked,
			bandwidth_limit = excluded.bandwidth_limit
	`,
		rec.ID, rec.MAC, rec.IP, rec.Hostname, rec.CustomName, rec.Manufacturer, rec.DeviceType,
		rec.FirstSeen, rec.LastSeen, rec.TotalBytes, rec.IsBlocked, rec.BandwidthLimit,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.StorageFailed, "upsert_device", err)
	}
	return nil
}

// GetDevice fetches a device row by ID.
func (s *SQLiteStore) GetDevice(id string) (DeviceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT id, mac, ip, hostname, custom_name, manufacturer, device_type, first_seen, last_seen, total_bytes, is_blocked, bandwidth_limit FROM devices WHERE id = ?`, id)

	var rec DeviceRecord
	var hostname, customName, manufacturer sql.NullString
	err := row.Scan(&rec.ID, &rec.MAC, &rec.IP, &hostname, &customName, &manufacturer, &rec.DeviceType,
		&rec.FirstSeen, &rec.LastSeen, &rec.TotalBytes, &rec.IsBlocked, &rec.BandwidthLimit)
	if err == sql.ErrNoRows {
		return DeviceRecord{}, false, nil
	}
	if err != nil {
		return DeviceRecord{}, false, apperrors.Wrap(apperrors.StorageFailed, "get_device", err)
	}

	rec.Hostname = hostname.String
	rec.CustomName = customName.String
	rec.Manufacturer = manufacturer.String
	return rec, true, nil
}

// ListDevices returns every stored device.
func (s *SQLiteStore) ListDevices() ([]DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, mac, ip, hostname, custom_name, manufacturer, device_type, first_seen, last_seen, total_bytes, is_blocked, bandwidth_limit FROM devices`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.StorageFailed, "list_devices", err)
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var rec DeviceRecord
		var hostname, customName, manufacturer sql.NullString
		if err := rows.Scan(&rec.ID, &rec.MAC, &rec.IP, &hostname, &customName, &manufacturer, &rec.DeviceType,
			&rec.FirstSeen, &rec.LastSeen, &rec.TotalBytes, &rec.IsBlocked, &rec.BandwidthLimit); err != nil {
			return nil, apperrors.Wrap(apperrors.StorageFailed, "list_devices", err)
		}
		rec.Hostname = hostname.String
		rec.CustomName = customName.String
		rec.Manufacturer = manufacturer.String
		out = append(out, rec)
	}
	return out, nil
}

// RecordEvent appends a row to network_events.
func (s *SQLiteStore) RecordEvent(evt NetworkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO network_events (event_type, device_id, timestamp, details) VALUES (?, ?, ?, ?)`,
		string(evt.EventType), evt.DeviceID, evt.Timestamp, evt.Details)
	if err != nil {
		return apperrors.Wrap(apperrors.StorageFailed, "record_event", err)
	}
	return nil
}

// GetSetting reads one settings row.
func (s *SQLiteStore) GetSetting(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.StorageFailed, "get_setting", err)
	}
	return value, true, nil
}

// SetSetting upserts one settings row.
func (s *SQLiteStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return apperrors.Wrap(apperrors.StorageFailed, "set_setting", err)
	}
	return nil
}
