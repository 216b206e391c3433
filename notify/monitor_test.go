package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/crlsmrls/fwatch/alertcache"
	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
	"github.com/crlsmrls/fwatch/mlscore"
)

type fakeSender struct {
	calls int
}

func (f *fakeSender) Send(ctx context.Context, subject, html, text string, recipients []string) (bool, error) {
	f.calls++
	return true, nil
}

func newHarness(t *testing.T) (*Monitor, *fakeSender, *eventstore.Store) {
	t.Helper()
	store, err := eventstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open eventstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := alertcache.Open(":memory:", store)
	if err != nil {
		t.Fatalf("open alertcache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	records, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("open notify store: %v", err)
	}
	t.Cleanup(func() { records.Close() })

	scorer := mlscore.NewScorer()
	sender := &fakeSender{}

	mon := NewMonitor(Options{
		Enabled:           true,
		SeverityThreshold: domain.SeverityLow,
		MLRiskThreshold:   70,
		RateLimit:         15 * time.Minute,
		Recipients:        []string{"soc@example.com"},
	}, cache, store, records, scorer, sender, zerolog.Nop())

	return mon, sender, store
}

// TestMonitor_MediumAlertGatedByMLRisk covers spec.md §8 scenario 5: a
// MEDIUM alert with ml_risk below threshold is not sent; raising the risk
// above threshold sends it, and a repeat within the rate-limit window is
// suppressed.
func TestMonitor_MediumAlertGatedByMLRisk(t *testing.T) {
	mon, sender, _ := newHarness(t)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	alert := domain.Alert{
		Key: domain.AlertKey{
			BucketEnd:       now,
			LookbackSeconds: 86400,
			AlertType:       domain.AttackPortScan,
			SourceIP:        "198.51.100.5",
		},
		Severity:    domain.SeverityMedium,
		FirstSeen:   now.Add(-10 * time.Minute),
		LastSeen:    now,
		Count:       12,
		Description: "Port scan detected",
	}

	mon.scorer.Enabled = true

	// With no matching event in the store (empty LogSource/EventType),
	// the default anomaly model scores this MEDIUM alert's raw content
	// near zero, landing risk well below the threshold.
	if err := mon.processAlert(context.Background(), alert); err != nil {
		t.Fatalf("processAlert: %v", err)
	}
	if sender.calls != 0 {
		t.Fatalf("expected no send while ml risk below threshold, got %d sends", sender.calls)
	}

	// Swap in an anomaly model that always scores at the top of the
	// calibrated range, pushing risk above threshold for the next alert.
	mon.scorer.Anomaly = highAnomaly{}

	alert2 := alert
	alert2.Key.SourceIP = "198.51.100.6"
	if err := mon.processAlert(context.Background(), alert2); err != nil {
		t.Fatalf("processAlert: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected exactly one send after risk raised, got %d", sender.calls)
	}

	// A repeat of the same alert (same dedup key) within the rate-limit
	// window must not trigger a second send.
	if err := mon.processAlert(context.Background(), alert2); err != nil {
		t.Fatalf("processAlert repeat: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected repeat within window to be suppressed, got %d sends", sender.calls)
	}
}

// TestMonitor_CriticalAlwaysSends covers the CRITICAL-always-sends branch
// of the send decision regardless of ML availability.
func TestMonitor_CriticalAlwaysSends(t *testing.T) {
	mon, sender, _ := newHarness(t)
	mon.scorer.Enabled = false

	now := time.Now().UTC()
	alert := domain.Alert{
		Key: domain.AlertKey{
			BucketEnd: now, LookbackSeconds: 86400,
			AlertType: domain.AttackBruteForce, SourceIP: "203.0.113.9",
		},
		Severity:  domain.SeverityCritical,
		FirstSeen: now.Add(-time.Minute),
		LastSeen:  now,
		Count:     50,
	}
	if err := mon.processAlert(context.Background(), alert); err != nil {
		t.Fatalf("processAlert: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected CRITICAL alert to always send, got %d sends", sender.calls)
	}
}

// TestMonitor_DedupPreventsRepeatAcrossTicks ensures at most one email is
// sent per alert document across repeated invocations of Tick's
// underlying processAlert, even without a rate-limit boundary crossed.
func TestMonitor_DedupPreventsRepeatAcrossTicks(t *testing.T) {
	mon, sender, _ := newHarness(t)
	mon.scorer.Enabled = false

	now := time.Now().UTC()
	alert := domain.Alert{
		Key: domain.AlertKey{
			BucketEnd: now, LookbackSeconds: 86400,
			AlertType: domain.AttackDistributedFlood, SourceIP: "",
		},
		Severity:  domain.SeverityCritical,
		FirstSeen: now.Add(-time.Minute),
		LastSeen:  now,
		Count:     500,
	}
	for i := 0; i < 3; i++ {
		if err := mon.processAlert(context.Background(), alert); err != nil {
			t.Fatalf("processAlert iteration %d: %v", i, err)
		}
	}
	if sender.calls != 1 {
		t.Fatalf("expected exactly one send across repeated identical alerts, got %d", sender.calls)
	}
}

type highAnomaly struct{}

func (highAnomaly) RawScore(mlscore.FeatureVector) float64 { return 1.0 }
