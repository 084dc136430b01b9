package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netsnip.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertAndGetDevice(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rec := DeviceRecord{
		ID:           "de_ad_be_ef_00_01",
		MAC:          "de:ad:be:ef:00:01",
		IP:           "192.168.1.50",
		Hostname:     "kitchen-tv",
		Manufacturer: "Roku",
		DeviceType:   "tv",
		FirstSeen:    now,
		LastSeen:     now,
	}
	require.NoError(t, store.UpsertDevice(rec))

	got, ok, err := store.GetDevice("de_ad_be_ef_00_01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.MAC, got.MAC)
	assert.Equal(t, rec.Hostname, got.Hostname)
	assert.Equal(t, rec.DeviceType, got.DeviceType)
}

func TestUpsertDeviceUpdatesByMAC(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	first := DeviceRecord{ID: "d1", MAC: "aa:bb:cc:dd:ee:ff", IP: "192.168.1.5", FirstSeen: now, LastSeen: now}
	require.NoError(t, store.UpsertDevice(first))

	updated := first
	updated.IP = "192.168.1.6"
	updated.LastSeen = now.Add(time.Minute)
	require.NoError(t, store.UpsertDevice(updated))

	got, ok, err := store.GetDevice("d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.6", got.IP)

	all, err := store.ListDevices()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetDeviceNotFound(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.GetDevice("unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListDevicesReturnsAllRows(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.UpsertDevice(DeviceRecord{ID: "d1", MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.1", FirstSeen: now, LastSeen: now}))
	require.NoError(t, store.UpsertDevice(DeviceRecord{ID: "d2", MAC: "aa:bb:cc:dd:ee:02", IP: "192.168.1.2", FirstSeen: now, LastSeen: now}))

	all, err := store.ListDevices()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecordEventAppendsRow(t *testing.T) {
	store := newTestStore(t)
	err := store.RecordEvent(NetworkEvent{
		EventType: EventDeviceCut,
		DeviceID:  "de_ad_be_ef_00_01",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
}

func TestSettingRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.GetSetting("theme")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting("theme", "dark"))
	val, ok, err := store.GetSetting("theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark", val)

	require.NoError(t, store.SetSetting("theme", "light"))
	val, ok, err = store.GetSetting("theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "light", val)
}
