package detect

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/crlsmrls/fwatch/domain"
)

// ReputationLevel is the normalized verdict an enrichment produces.
type ReputationLevel string

const (
	ReputationUnknown  ReputationLevel = "UNKNOWN"
	ReputationLow      ReputationLevel = "LOW"
	ReputationMedium   ReputationLevel = "MEDIUM"
	ReputationHigh     ReputationLevel = "HIGH"
	ReputationCritical ReputationLevel = "CRITICAL"
)

// ReputationLookup is the external collaborator contract: given an IP,
// return its normalized threat level. Implementations call out to a
// reputation service (VirusTotal in virustotal_service.py); tests and
// offline setups can stub it.
type ReputationLookup func(ctx context.Context, ip string) (ReputationLevel, error)

type reputationCacheEntry struct {
	level   ReputationLevel
	fetched time.Time
}

// ReputationCache is a TTL-bounded (24h, spec.md §4.4.4) cache in front of a
// ReputationLookup. Private/loopback/link-local/reserved/multicast addresses
// never reach the lookup — they short-circuit to UNKNOWN, mirroring
// virustotal_service.py's early return for non-routable IPs.
type ReputationCache struct {
	mu      sync.Mutex
	entries map[string]reputationCacheEntry
	ttl     time.Duration
	lookup  ReputationLookup
}

func NewReputationCache(lookup ReputationLookup) *ReputationCache {
	return &ReputationCache{
		entries: make(map[string]reputationCacheEntry),
		ttl:     24 * time.Hour,
		lookup:  lookup,
	}
}

func (c *ReputationCache) Get(ctx context.Context, ip string) ReputationLevel {
	if isNonRoutable(ip) {
		return ReputationUnknown
	}

	c.mu.Lock()
	entry, ok := c.entries[ip]
	c.mu.Unlock()
	if ok && time.Since(entry.fetched) < c.ttl {
		return entry.level
	}

	if c.lookup == nil {
		return ReputationUnknown
	}
	level, err := c.lookup(ctx, ip)
	if err != nil {
		if ok {
			return entry.level // serve stale on lookup failure
		}
		return ReputationUnknown
	}

	c.mu.Lock()
	c.entries[ip] = reputationCacheEntry{level: level, fetched: time.Now()}
	c.mu.Unlock()
	return level
}

func isNonRoutable(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	if v4 := parsed.To4(); v4 != nil && v4[0] >= 240 {
		return true // reserved: 240.0.0.0/4
	}
	return parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() || parsed.IsMulticast() || parsed.IsUnspecified()
}

// Enrich upgrades a Detection's severity in place based on its source IP's
// reputation: CRITICAL forces CRITICAL, HIGH raises to at least HIGH, MEDIUM
// raises to at least MEDIUM; lower severities never downgrade (spec.md
// §4.4.4). Detections with no single source_ip (distributed floods) are
// left untouched.
func (c *ReputationCache) Enrich(ctx context.Context, d *domain.Detection) {
	if d.SourceIP == "" {
		return
	}
	level := c.Get(ctx, d.SourceIP)
	d.Reputation = string(level)

	switch level {
	case ReputationCritical:
		d.Severity = domain.SeverityCritical
	case ReputationHigh:
		d.Severity = domain.MaxSeverity(d.Severity, domain.SeverityHigh)
	case ReputationMedium:
		d.Severity = domain.MaxSeverity(d.Severity, domain.SeverityMedium)
	}
}

// DefaultHTTPTimeout matches virustotal_service.py's 10s request timeout
// (spec.md §5: "External IP-reputation and email calls (hard timeouts, 10s
// typical)").
const DefaultHTTPTimeout = 10 * time.Second

// NewHTTPClient returns an http.Client configured with the hard timeout
// external reputation/email calls require.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultHTTPTimeout}
}
