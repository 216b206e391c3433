package mlscore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/metrics"
)

// featureSchemaVersion bumps whenever ExtractFeatures changes shape. The
// cache is keyed (in part) by this version so a stale entry from a prior
// schema is never handed to a scaler expecting the new shape (spec.md §9:
// "version the cache by a schema hash and invalidate on mismatch" — this
// replaces the source's ad-hoc per-field `time_since_last` stripping with a
// whole-entry invalidation on version mismatch).
const featureSchemaVersion = 1

// cacheKey computes a deterministic cache key for an MLInput. Uses SHA-256,
// not Go's randomized map/string hash, so the key is stable across process
// restarts (spec.md §9).
func cacheKey(input domain.MLInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "v=%d|source_ip=%s|threat_hint=%s|severity_hint=%d|has_severity=%t|log_source=%s|event_type=%s|raw_log=%s",
		featureSchemaVersion, input.SourceIP, input.ThreatTypeHint, input.SeverityHint,
		input.HasSeverityHint, input.LogSource, input.EventType, input.RawLog)
	return hex.EncodeToString(h.Sum(nil))
}

type featureCacheEntry struct {
	features FeatureVector
	version  int
	expires  time.Time
}

// FeatureCache caches engineered feature rows by input hash with a TTL,
// keyed additionally by schema version so a version bump invalidates
// everything at once rather than patching individual fields.
type FeatureCache struct {
	mu      sync.Mutex
	entries map[string]featureCacheEntry
	ttl     time.Duration
	hits    int64
	lookups int64
}

func NewFeatureCache(ttl time.Duration) *FeatureCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FeatureCache{entries: make(map[string]featureCacheEntry), ttl: ttl}
}

// GetOrCompute returns the cached feature row for input if present, fresh,
// and schema-current; otherwise it extracts, caches, and returns a fresh one.
func (c *FeatureCache) GetOrCompute(input domain.MLInput) FeatureVector {
	key := cacheKey(input)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.lookups++
	hit := ok && entry.version == featureSchemaVersion && time.Now().Before(entry.expires)
	if hit {
		c.hits++
	}
	ratio := float64(c.hits) / float64(c.lookups)
	c.mu.Unlock()
	metrics.MLScorerCacheHitRatio.Set(ratio)
	if hit {
		return entry.features
	}

	features := ExtractFeatures(input)
	c.mu.Lock()
	c.entries[key] = featureCacheEntry{features: features, version: featureSchemaVersion, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return features
}
