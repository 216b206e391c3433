package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
)

func newStore(t *testing.T) *eventstore.Store {
	t.Helper()
	s, err := eventstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Scenario 1 (spec.md §8): 25 failed SSH logins from one IP, 30s apart,
// within 14 minutes; threshold=5, window=15m → 1 HIGH detection.
func TestDetectBruteForce_Scenario(t *testing.T) {
	s := newStore(t)
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
	if err := s.InsertMany(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	detections, err := DetectBruteForce(ctx, s, BruteForceOptions{
		Threshold: 5,
		Window:    15 * time.Minute,
		Start:     base.Add(-time.Hour),
		End:       base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(detections))
	}
	d := detections[0]
	if d.SourceIP != "192.168.1.100" {
		t.Errorf("source_ip = %q", d.SourceIP)
	}
	if d.TotalAttempts != 25 {
		t.Errorf("total_attempts = %d, want 25", d.TotalAttempts)
	}
	if d.Severity != domain.SeverityHigh {
		t.Errorf("severity = %v, want HIGH", d.Severity)
	}
	if len(d.Windows) < 1 || d.Windows[0].Count < 5 {
		t.Errorf("expected at least one window with count >= 5, got %+v", d.Windows)
	}
}

// Scenario 2 (spec.md §8): 120 UFW lines from one IP within 59 seconds;
// single_ip_threshold=100, window=60s → 1 SINGLE_IP_FLOOD with 120 requests
// and a peak rate of at least 100/min. Severity is not asserted: a single
// 60s window at 120 req/min rates LOW in the flood severity table.
func TestDetectDDoS_SingleIPFloodScenario(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var events []domain.Event
	for i := 0; i < 120; i++ {
		events = append(events, domain.Event{
			Timestamp:       base.Add(time.Duration(i) * 490 * time.Millisecond),
			SourceIP:        "192.168.1.200",
			DestinationPort: 80,
			Protocol:        "TCP",
			LogSource:       "ufw.log",
			EventType:       domain.EventUFWTraffic,
			Severity:        domain.SeverityLow,
			RawLog:          fmt.Sprintf("flood %d", i),
		})
	}
	if err := s.InsertMany(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	detections, err := DetectDDoS(ctx, s, DDoSOptions{
		Window:            60 * time.Second,
		SingleIPThreshold: 100,
		Start:             base.Add(-time.Minute),
		End:               base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	var flood *domain.Detection
	for i := range detections {
		if detections[i].AttackType == domain.AttackSingleIPFlood {
			flood = &detections[i]
		}
	}
	if flood == nil {
		t.Fatalf("expected a SINGLE_IP_FLOOD detection, got %+v", detections)
	}
	if flood.TotalAttempts != 120 {
		t.Errorf("total_attempts = %d, want 120", flood.TotalAttempts)
	}
	if flood.PeakRequestRate < 100 {
		t.Errorf("peak_request_rate = %v, want >= 100", flood.PeakRequestRate)
	}
}

// Scenario 3 (spec.md §8): 30 events from one IP to 30 distinct ports over
// 9 minutes; unique_ports_threshold=10, window=10m, min_total_attempts=20 →
// 1 detection, unique_ports_attempted=30, severity=HIGH.
func TestDetectPortScan_Scenario(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var events []domain.Event
	for i := 0; i < 30; i++ {
		events = append(events, domain.Event{
			Timestamp:       base.Add(time.Duration(i) * 18 * time.Second),
			SourceIP:        "10.0.0.7",
			DestinationPort: 1000 + i,
			Protocol:        "TCP",
			LogSource:       "ufw.log",
			EventType:       domain.EventSuspiciousPortAccess,
			Severity:        domain.SeverityMedium,
			RawLog:          fmt.Sprintf("scan %d", i),
		})
	}
	if err := s.InsertMany(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	detections, err := DetectPortScan(ctx, s, PortScanOptions{
		Window:               10 * time.Minute,
		UniquePortsThreshold: 10,
		MinTotalAttempts:     20,
		Start:                base.Add(-time.Minute),
		End:                  base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(detections))
	}
	d := detections[0]
	if d.UniquePortsAttempted != 30 {
		t.Errorf("unique_ports_attempted = %d, want 30", d.UniquePortsAttempted)
	}
	if d.Severity != domain.SeverityHigh {
		t.Errorf("severity = %v, want HIGH", d.Severity)
	}
}

func TestReputationCache_PrivateIPShortCircuits(t *testing.T) {
	called := false
	c := NewReputationCache(func(ctx context.Context, ip string) (ReputationLevel, error) {
		called = true
		return ReputationCritical, nil
	})
	level := c.Get(context.Background(), "10.0.0.5")
	if level != ReputationUnknown {
		t.Errorf("level = %v, want UNKNOWN", level)
	}
	if called {
		t.Errorf("lookup should not be called for a private IP")
	}
}

func TestReputationCache_EnrichUpgradesButNeverDowngrades(t *testing.T) {
	c := NewReputationCache(func(ctx context.Context, ip string) (ReputationLevel, error) {
		return ReputationHigh, nil
	})
	d := domain.Detection{SourceIP: "203.0.113.5", Severity: domain.SeverityLow}
	c.Enrich(context.Background(), &d)
	if d.Severity != domain.SeverityHigh {
		t.Errorf("severity = %v, want HIGH", d.Severity)
	}

	d2 := domain.Detection{SourceIP: "203.0.113.6", Severity: domain.SeverityCritical}
	c.Enrich(context.Background(), &d2)
	if d2.Severity != domain.SeverityCritical {
		t.Errorf("severity = %v, want CRITICAL (never downgraded)", d2.Severity)
	}
}
