package scanner

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseARPLine(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantIP   string
		wantMAC  string
		wantHost string
		wantOK   bool
	}{
		{
			name:     "linux style with hostname",
			line:     "router.lan (192.168.1.1) at aa:bb:cc:dd:ee:ff [ether] on eth0",
			wantIP:   "192.168.1.1",
			wantMAC:  "aa:bb:cc:dd:ee:ff",
			wantHost: "router.lan",
			wantOK:   true,
		},
		{
			name:   "question-mark hostname",
			line:   "? (192.168.1.50) at de:ad:be:ef:00:01 on eth0",
			wantIP: "192.168.1.50",
			wantMAC: "de:ad:be:ef:00:01",
			wantOK:  true,
		},
		{
			name:   "incomplete entry has no MAC",
			line:   "? (192.168.1.99) at <incomplete> on eth0",
			wantOK: false,
		},
		{
			name:   "malformed line",
			line:   "garbage line with no parens",
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry, ok := parseARPLine(tc.line)
			require.Equal(t, tc.wantOK, ok)
			if !tc.wantOK {
				return
			}
			assert.Equal(t, tc.wantIP, entry.ip.String())
			assert.Equal(t, tc.wantMAC, entry.mac)
			if tc.wantHost != "" {
				assert.Equal(t, tc.wantHost, entry.hostname)
			}
		})
	}
}

func TestCanonicalMAC(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", canonicalMAC("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", canonicalMAC("aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "not-a-mac", canonicalMAC("not-a-mac"))
}

func TestHostAddressesExcludesNetworkAndBroadcast(t *testing.T) {
	_, network, err := net.ParseCIDR("192.168.1.0/29")
	require.NoError(t, err)

	ips := hostAddresses(network)

	require.Len(t, ips, 6) // /29 has 8 addresses, minus network+broadcast
	for _, ip := range ips {
		assert.NotEqual(t, "192.168.1.0", ip.String())
		assert.NotEqual(t, "192.168.1.7", ip.String())
	}
}

func TestDeviceIDFromMAC(t *testing.T) {
	host := DiscoveredHost{MAC: "AA:BB:CC:DD:EE:FF"}
	assert.Equal(t, "aa_bb_cc_dd_ee_ff", host.DeviceID())
}

func TestScannerHostLookups(t *testing.T) {
	s := &Scanner{
		snapshot: []DiscoveredHost{
			{IP: net.ParseIP("192.168.1.50").To4(), MAC: "de:ad:be:ef:00:01"},
		},
	}

	host, ok := s.HostByIP("192.168.1.50")
	require.True(t, ok)
	assert.Equal(t, "de:ad:be:ef:00:01", host.MAC)

	host, ok = s.HostByDeviceID("de_ad_be_ef_00_01")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.50", host.IP.String())

	_, ok = s.HostByIP("192.168.1.99")
	assert.False(t, ok)
}
