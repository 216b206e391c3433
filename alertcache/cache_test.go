package alertcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
)

func newTestCache(t *testing.T) (*Cache, *eventstore.Store) {
	t.Helper()
	store, err := eventstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := Open(":memory:", store)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache, store
}

func TestFloorToBucket(t *testing.T) {
	ts := time.Date(2026, 7, 30, 10, 47, 33, 0, time.UTC)
	got := FloorToBucket(ts, 5)
	want := time.Date(2026, 7, 30, 10, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("FloorToBucket = %v, want %v", got, want)
	}
}

// Scenario 4 (spec.md §8): calling get_or_compute twice within 60s with no
// new detections must not re-run the detectors; the second call returns the
// same set by key.
func TestGetOrCompute_BucketReuse(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var events []domain.Event
	for i := 0; i < 25; i++ {
		events = append(events, domain.Event{
			Timestamp: base.Add(time.Duration(i) * 30 * time.Second),
			SourceIP:  "192.168.1.100",
			LogSource: "auth.log",
			EventType: domain.EventSSHFailedLogin,
			Severity:  domain.SeverityHigh,
			Username:  "admin",
			RawLog:    fmt.Sprintf("attempt %d", i),
		})
	}
	if err := store.InsertMany(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	now := time.Now().UTC()
	first, err := cache.GetOrCompute(ctx, now, int(24*time.Hour/time.Second), 5)
	if err != nil {
		t.Fatalf("get_or_compute: %v", err)
	}
	if len(first) == 0 {
		t.Fatalf("expected at least one alert")
	}

	second, err := cache.GetOrCompute(ctx, now.Add(10*time.Second), int(24*time.Hour/time.Second), 5)
	if err != nil {
		t.Fatalf("get_or_compute (second): %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("second call returned %d alerts, want %d", len(second), len(first))
	}
	for i := range first {
		if first[i].Key != second[i].Key {
			t.Errorf("key mismatch at %d: %+v vs %+v", i, first[i].Key, second[i].Key)
		}
	}
}

func TestSortAlerts_SeverityThenRecency(t *testing.T) {
	now := time.Now().UTC()
	alerts := []domain.Alert{
		{Severity: domain.SeverityLow, LastSeen: now},
		{Severity: domain.SeverityCritical, LastSeen: now.Add(-time.Hour)},
		{Severity: domain.SeverityCritical, LastSeen: now},
	}
	sortAlerts(alerts)
	if alerts[0].Severity != domain.SeverityCritical || !alerts[0].LastSeen.Equal(now) {
		t.Errorf("expected most recent CRITICAL first, got %+v", alerts[0])
	}
	if alerts[2].Severity != domain.SeverityLow {
		t.Errorf("expected LOW last, got %+v", alerts[2])
	}
}
