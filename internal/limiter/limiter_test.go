package limiter

import (
	"net"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLimitRejectsOutOfRange(t *testing.T) {
	l := New()
	ip := net.ParseIP("192.168.1.50")

	require.Error(t, l.SetLimit(ip, 0))
	require.Error(t, l.SetLimit(ip, -1))
	require.Error(t, l.SetLimit(ip, 10001))
	require.NoError(t, l.SetLimit(ip, 10000))
	require.NoError(t, l.SetLimit(ip, 1))
}

func TestUnlimitedHostAlwaysForwards(t *testing.T) {
	l := New()
	ip := net.ParseIP("192.168.1.50")

	for i := 0; i < 100; i++ {
		assert.True(t, l.ShouldForward(ip, 1_000_000))
	}

	stats, ok := l.Stats(ip)
	require.True(t, ok)
	assert.Equal(t, uint64(100_000_000), stats.BytesSent)
	assert.Zero(t, stats.PacketsDropped)
}

func TestTokenBucketAdmitsThenDrops(t *testing.T) {
	l := New()
	ip := net.ParseIP("192.168.1.50")
	// 8 Mbps == 1,000,000 bytes/sec bucket size.
	require.NoError(t, l.SetLimit(ip, 8))

	// First packet within the full bucket is admitted.
	assert.True(t, l.ShouldForward(ip, 500_000))
	// Second packet exceeds remaining tokens and is dropped.
	assert.False(t, l.ShouldForward(ip, 600_000))

	stats, ok := l.Stats(ip)
	require.True(t, ok)
	assert.Equal(t, uint64(500_000), stats.BytesSent)
	assert.Equal(t, uint64(1), stats.PacketsDropped)
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	l := New()
	ip := net.ParseIP("192.168.1.50")
	require.NoError(t, l.SetLimit(ip, 8)) // 1,000,000 bytes/sec

	assert.True(t, l.ShouldForward(ip, 1_000_000)) // drains the bucket fully

	l.mu.Lock()
	l.buckets[ip.String()].LastRefill = time.Now().Add(-500 * time.Millisecond)
	l.mu.Unlock()

	// After 500ms at 1,000,000 B/s, ~500,000 tokens should have refilled.
	assert.True(t, l.ShouldForward(ip, 400_000))
	assert.False(t, l.ShouldForward(ip, 400_000))
}

func TestClearLimitRemovesBucket(t *testing.T) {
	l := New()
	ip := net.ParseIP("192.168.1.50")
	require.NoError(t, l.SetLimit(ip, 1))
	l.ClearLimit(ip)

	// With no bucket, the host is unlimited again.
	assert.True(t, l.ShouldForward(ip, 100_000_000))
}

func TestGetLimitReportsConfiguredRate(t *testing.T) {
	l := New()
	ip := net.ParseIP("192.168.1.50")

	_, ok := l.GetLimit(ip)
	assert.False(t, ok)

	require.NoError(t, l.SetLimit(ip, 25))
	mbps, ok := l.GetLimit(ip)
	require.True(t, ok)
	assert.InDelta(t, 25, mbps, 1e-9)

	l.ClearLimit(ip)
	_, ok = l.GetLimit(ip)
	assert.False(t, ok)
}

func TestResetStatsClearsCounters(t *testing.T) {
	l := New()
	ip := net.ParseIP("192.168.1.50")
	l.ShouldForward(ip, 100)
	l.ResetStats()

	_, ok := l.Stats(ip)
	assert.False(t, ok)
}

// TestTokenBucketNeverExceedsMaxRate is a property check: no matter how long
// elapses between refills, the bucket never holds more than MaxRate tokens.
func TestTokenBucketNeverExceedsMaxRate(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("current tokens saturate at max rate", prop.ForAll(
		func(mbps float64, elapsedSeconds float64) bool {
			l := New()
			ip := net.ParseIP("192.168.1.50")
			if err := l.SetLimit(ip, mbps); err != nil {
				return false
			}

			l.mu.Lock()
			bucket := l.buckets[ip.String()]
			bucket.LastRefill = time.Now().Add(-time.Duration(elapsedSeconds * float64(time.Second)))
			l.mu.Unlock()

			l.ShouldForward(ip, 1) // triggers a refill computation

			l.mu.Lock()
			tokens := l.buckets[ip.String()].CurrentTokens
			maxRate := l.buckets[ip.String()].MaxRate
			l.mu.Unlock()

			return tokens <= maxRate+1e-6
		},
		gen.Float64Range(0.01, 10000),
		gen.Float64Range(0, 3600),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
