package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/crlsmrls/fwatch/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertManyAndScanTimeRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	events := []domain.Event{
		{Timestamp: base, SourceIP: "1.2.3.4", LogSource: "auth.log", EventType: domain.EventSSHFailedLogin, Severity: domain.SeverityHigh, RawLog: "a"},
		{Timestamp: base.Add(time.Minute), SourceIP: "1.2.3.4", LogSource: "auth.log", EventType: domain.EventSSHFailedLogin, Severity: domain.SeverityHigh, RawLog: "b"},
	}
	if err := s.InsertMany(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.ScanTimeRange(ctx, Filters{Start: base.Add(-time.Hour), End: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("expected ascending order, first = %v", got[0].Timestamp)
	}
}

func TestFindRangeSeverityFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	high := domain.SeverityHigh
	events := []domain.Event{
		{Timestamp: now, SourceIP: "1.1.1.1", LogSource: "auth.log", EventType: domain.EventSSHFailedLogin, Severity: domain.SeverityHigh, RawLog: "x"},
		{Timestamp: now, SourceIP: "2.2.2.2", LogSource: "auth.log", EventType: domain.EventSSHLoginSuccess, Severity: domain.SeverityLow, RawLog: "y"},
	}
	if err := s.InsertMany(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.FindRange(ctx, Filters{Severity: &high}, SortTimestamp, false, 10, 0)
	if err != nil {
		t.Fatalf("find_range: %v", err)
	}
	if len(got) != 1 || got[0].SourceIP != "1.1.1.1" {
		t.Fatalf("expected exactly the HIGH event, got %+v", got)
	}
}

func TestEnforceRetentionDeletesOldest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-24 * time.Hour)

	var events []domain.Event
	for i := 0; i < 50; i++ {
		events = append(events, domain.Event{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			SourceIP:  "10.0.0.1",
			LogSource: "auth.log",
			EventType: domain.EventSSHFailedLogin,
			Severity:  domain.SeverityHigh,
			RawLog:    "padding-padding-padding-padding-padding",
		})
	}
	if err := s.InsertMany(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A max size of 0 forces at least one deletion cycle.
	deleted, err := s.EnforceRetention(ctx, 0, 0.001)
	if err != nil {
		t.Fatalf("enforce retention: %v", err)
	}
	if deleted == 0 {
		t.Fatalf("expected retention to delete at least one row")
	}
}
