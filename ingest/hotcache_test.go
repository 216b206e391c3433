package ingest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// No Redis server is available in this test environment; NewHotCache
// should degrade to a disabled no-op rather than block or panic.
func TestHotCache_DegradesWhenRedisUnreachable(t *testing.T) {
	c := NewHotCache(context.Background(), "127.0.0.1:1", "", 0, zerolog.Nop())
	if c.enabled {
		t.Fatalf("expected cache to be disabled when redis is unreachable")
	}
	if c.Add(context.Background(), CachedLine{LogSource: "auth", RawLine: "x"}) {
		t.Errorf("expected Add to return false when disabled")
	}
	recent, err := c.Recent(context.Background(), "auth", 10)
	if err != nil {
		t.Errorf("Recent should not error when disabled: %v", err)
	}
	if recent != nil {
		t.Errorf("expected nil recent lines when disabled, got %v", recent)
	}
}

func TestHotCache_KeyRoutesAllSourceToAggregateKey(t *testing.T) {
	if got := key("all"); got != logAllKey {
		t.Errorf("key(all) = %q, want %q", got, logAllKey)
	}
	if got := key("auth"); got != logSourcePrefix+"auth" {
		t.Errorf("key(auth) = %q, want %q", got, logSourcePrefix+"auth")
	}
}
