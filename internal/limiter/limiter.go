// Package limiter implements the token-bucket bandwidth-limiting decision
// engine. It does not itself capture, forward, or drop packets — callers
// feed it per-packet admission checks and read back statistics.
package limiter

import (
	"net"
	"sync"
	"time"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/logger"
	"github.com/lanctl/netsnip/internal/metrics"
)

const (
	minLimitMbps = 0.0
	maxLimitMbps = 10000.0
)

// TokenBucket is the per-host rate-limit state.
type TokenBucket struct {
	MaxRate       float64 // bytes/sec
	CurrentTokens float64 // bytes
	LastRefill    time.Time
}

// Stats tracks per-host admission counters.
type Stats struct {
	BytesSent      uint64
	PacketsDropped uint64
	LastUpdate     time.Time
}

// Limiter owns the token-bucket and statistics maps, keyed by IPv4 string.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	stats   map[string]*Stats
	logger  *logger.Logger
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*TokenBucket),
		stats:   make(map[string]*Stats),
		logger:  logger.NewComponentLogger("limiter"),
	}
}

// SetLimit installs or replaces a token bucket for ip sized
// mbps × 10^6 / 8 bytes, initially full. mbps must be in (0, 10000].
func (l *Limiter) SetLimit(ip net.IP, mbps float64) error {
	if mbps <= minLimitMbps || mbps > maxLimitMbps {
		return apperrors.New(apperrors.InvalidInput, "set_limit", "limit_mbps must be in (0, 10000]")
	}

	maxRate := mbps * 1_000_000 / 8

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[ip.String()] = &TokenBucket{
		MaxRate:       maxRate,
		CurrentTokens: maxRate,
		LastRefill:    time.Now(),
	}
	metrics.BandwidthLimitsActive.Set(float64(len(l.buckets)))
	return nil
}

// ClearLimit removes ip's token bucket, if any.
func (l *Limiter) ClearLimit(ip net.IP) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, ip.String())
	metrics.BandwidthLimitsActive.Set(float64(len(l.buckets)))
}

// ShouldForward decides whether a packet of size bytes from ip may be
// forwarded, refilling the bucket for elapsed time and updating statistics.
func (l *Limiter) ShouldForward(ip net.IP, size int) bool {
	key := ip.String()
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, limited := l.buckets[key]
	if !limited {
		l.creditLocked(key, uint64(size), now)
		return true
	}

	elapsed := now.Sub(bucket.LastRefill).Seconds()
	if elapsed > 0 {
		bucket.CurrentTokens += elapsed * bucket.MaxRate
		if bucket.CurrentTokens > bucket.MaxRate {
			bucket.CurrentTokens = bucket.MaxRate
		}
		bucket.LastRefill = now
	}

	if bucket.CurrentTokens >= float64(size) {
		bucket.CurrentTokens -= float64(size)
		l.creditLocked(key, uint64(size), now)
		return true
	}

	l.dropLocked(key, now)
	return false
}

func (l *Limiter) creditLocked(key string, bytes uint64, now time.Time) {
	s := l.statLocked(key, now)
	s.BytesSent += bytes
	s.LastUpdate = now
}

func (l *Limiter) dropLocked(key string, now time.Time) {
	s := l.statLocked(key, now)
	s.PacketsDropped++
	s.LastUpdate = now
	metrics.PacketsDropped.WithLabelValues(key).Inc()
}

func (l *Limiter) statLocked(key string, now time.Time) *Stats {
	s, ok := l.stats[key]
	if !ok {
		s = &Stats{LastUpdate: now}
		l.stats[key] = s
	}
	return s
}

// GetLimit returns ip's configured rate in Mbps, if a limit is installed.
func (l *Limiter) GetLimit(ip net.IP) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[ip.String()]
	if !ok {
		return 0, false
	}
	return bucket.MaxRate * 8 / 1_000_000, true
}

// Stats returns a copy of ip's statistics, if any have been recorded.
func (l *Limiter) Stats(ip net.IP) (Stats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[ip.String()]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// AllStats returns a copy of every recorded Stats entry, keyed by IP.
func (l *Limiter) AllStats() map[string]Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Stats, len(l.stats))
	for k, v := range l.stats {
		out[k] = *v
	}
	return out
}

// ResetStats clears every recorded statistics entry.
func (l *Limiter) ResetStats() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = make(map[string]*Stats)
}
