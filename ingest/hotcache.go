package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	maxCachedLogsPerSource = 5000
	logCacheTTL            = time.Hour
	logSourcePrefix        = "logs:source:"
	logAllKey              = logSourcePrefix + "all"
)

// CachedLine is the JSON shape stored per cached line and broadcast to
// WebSocket subscribers, matching log_ingestor.py's per-line dict.
type CachedLine struct {
	Type      string `json:"type"`
	LogSource string `json:"log_source"`
	RawLine   string `json:"raw_line"`
	Timestamp string `json:"timestamp"`
}

// HotCache is a bounded per-source FIFO cache of recently tailed log lines,
// backed by Redis, grounded on redis_cache.py's RedisLogCache. When Redis is
// unreachable it degrades to a no-op rather than failing ingestion — the
// same contract the source gives via its `enabled` flag.
type HotCache struct {
	client  *redis.Client
	enabled bool
	log     zerolog.Logger
}

// NewHotCache pings addr and returns a HotCache that is disabled (but
// still usable, as a no-op) if Redis cannot be reached.
func NewHotCache(ctx context.Context, addr, password string, db int, log zerolog.Logger) *HotCache {
	log = log.With().Str("component", "ingest.hotcache").Logger()
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis connection failed, falling back to in-memory no-op cache")
		return &HotCache{client: client, enabled: false, log: log}
	}
	log.Info().Str("addr", addr).Msg("redis connected")
	return &HotCache{client: client, enabled: true, log: log}
}

func key(source string) string {
	if source == "all" {
		return logAllKey
	}
	return logSourcePrefix + source
}

// Add caches one line under its source key and under the aggregate "all"
// key, trimming each list to maxCachedLogsPerSource and refreshing its TTL.
// Returns false (never an error) when the cache is disabled, matching the
// source's bool-returning add_log.
func (c *HotCache) Add(ctx context.Context, line CachedLine) bool {
	if !c.enabled {
		return false
	}

	payload, err := json.Marshal(line)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal cached line")
		return false
	}

	pipe := c.client.Pipeline()
	sourceKey := key(line.LogSource)
	pipe.LPush(ctx, sourceKey, payload)
	pipe.LTrim(ctx, sourceKey, 0, maxCachedLogsPerSource-1)
	pipe.Expire(ctx, sourceKey, logCacheTTL)
	if line.LogSource != "all" {
		pipe.LPush(ctx, logAllKey, payload)
		pipe.LTrim(ctx, logAllKey, 0, maxCachedLogsPerSource-1)
		pipe.Expire(ctx, logAllKey, logCacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Error().Err(err).Msg("redis cache write failed")
		return false
	}
	return true
}

// Recent returns up to limit cached lines for source in chronological
// (oldest-first) order. limit<=0 means all cached lines.
func (c *HotCache) Recent(ctx context.Context, source string, limit int) ([]CachedLine, error) {
	if !c.enabled {
		return nil, nil
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := c.client.LRange(ctx, key(source), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	out := make([]CachedLine, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var cl CachedLine
		if err := json.Unmarshal([]byte(raw[i]), &cl); err != nil {
			continue
		}
		out = append(out, cl)
	}
	return out, nil
}
