// Package alertcache materializes detector output into Alert documents on a
// fixed time bucket, so that repeated dashboard/notification reads within a
// short freshness window do not re-run the detectors (spec.md §4.5).
package alertcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crlsmrls/fwatch/detect"
	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
	"github.com/crlsmrls/fwatch/metrics"
)

// freshnessWindow is the "dashboard freshness vs. detector cost" constant
// spec.md §9 says must be preserved or exposed, not silently lowered.
const freshnessWindow = 120 * time.Second

// Cache is a sqlite-backed materialized view of Alerts, keyed by
// (bucket_end, lookback_seconds, alert_type, source_ip).
type Cache struct {
	db    *sql.DB
	store *eventstore.Store
}

// Open creates (or reuses) an alert cache at path, backed by the same
// eventstore.Store the detectors read from. Use ":memory:" for tests.
func Open(path string, store *eventstore.Store) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("alertcache: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("alertcache: wal mode: %w", err)
	}
	c := &Cache{db: db, store: store}
	if err := c.migrate(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS alerts (
	bucket_end TEXT NOT NULL,
	lookback_seconds INTEGER NOT NULL,
	alert_type TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	severity_rank INTEGER NOT NULL,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	count INTEGER NOT NULL,
	description TEXT NOT NULL,
	details TEXT NOT NULL,
	computed_at TEXT NOT NULL,
	PRIMARY KEY (bucket_end, lookback_seconds, alert_type, source_ip)
);
CREATE INDEX IF NOT EXISTS idx_alerts_computed_at ON alerts(computed_at);
`)
	if err != nil {
		return fmt.Errorf("alertcache: migrate: %w", err)
	}
	return nil
}

// FloorToBucket floors t down to the nearest bucketMinutes boundary
// (spec.md §4.5).
func FloorToBucket(t time.Time, bucketMinutes int) time.Time {
	if bucketMinutes <= 0 {
		return t.Truncate(time.Minute)
	}
	t = t.UTC().Truncate(time.Minute)
	floored := t.Minute() - (t.Minute() % bucketMinutes)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), floored, 0, 0, time.UTC)
}

// GetOrCompute implements the three-step contract in spec.md §4.5: look up a
// fresh cached set for (bucket_end, lookback); if none, run all three
// detectors over [start, bucket_end], convert to Alerts, upsert, and return.
func (c *Cache) GetOrCompute(ctx context.Context, now time.Time, lookbackSeconds, bucketMinutes int) ([]domain.Alert, error) {
	bucketEnd := FloorToBucket(now, bucketMinutes)
	start := bucketEnd.Add(-time.Duration(lookbackSeconds) * time.Second)

	cached, err := c.lookupFresh(ctx, bucketEnd, lookbackSeconds, now)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	alerts, err := c.compute(ctx, start, bucketEnd, lookbackSeconds)
	if err != nil {
		return nil, err
	}
	if err := c.upsertAll(ctx, alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Cache) lookupFresh(ctx context.Context, bucketEnd time.Time, lookbackSeconds int, now time.Time) ([]domain.Alert, error) {
	threshold := now.Add(-freshnessWindow)
	rows, err := c.db.QueryContext(ctx, `
		SELECT alert_type, source_ip, severity_rank, first_seen, last_seen, count, description, details, computed_at
		FROM alerts WHERE bucket_end = ? AND lookback_seconds = ? AND computed_at >= ?`,
		bucketEnd.UTC().Format(time.RFC3339Nano), lookbackSeconds, threshold.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("alertcache: lookup: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows, bucketEnd, lookbackSeconds)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	sortAlerts(alerts)
	return alerts, nil
}

func scanAlert(rows *sql.Rows, bucketEnd time.Time, lookbackSeconds int) (domain.Alert, error) {
	var a domain.Alert
	var alertType, firstSeen, lastSeen, computedAt, detailsJSON string
	var sevRank int
	if err := rows.Scan(&alertType, &a.Key.SourceIP, &sevRank, &firstSeen, &lastSeen, &a.Count, &a.Description, &detailsJSON, &computedAt); err != nil {
		return a, fmt.Errorf("alertcache: scan: %w", err)
	}
	a.Key.BucketEnd = bucketEnd
	a.Key.LookbackSeconds = lookbackSeconds
	a.Key.AlertType = domain.AttackType(alertType)
	a.Severity = domain.Severity(sevRank)
	var err error
	if a.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return a, err
	}
	if a.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return a, err
	}
	if a.ComputedAt, err = time.Parse(time.RFC3339Nano, computedAt); err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(detailsJSON), &a.Details); err != nil {
		return a, fmt.Errorf("alertcache: unmarshal details: %w", err)
	}
	return a, nil
}

// maxPerType caps how many detections of a single type get materialized per
// bucket, matching compute_alert_docs's max_per_type=200.
const maxPerType = 200

func (c *Cache) compute(ctx context.Context, start, bucketEnd time.Time, lookbackSeconds int) ([]domain.Alert, error) {
	now := time.Now().UTC()

	bruteForce, err := detect.DetectBruteForce(ctx, c.store, detect.BruteForceOptions{Start: start, End: bucketEnd})
	if err != nil {
		return nil, err
	}
	ddos, err := detect.DetectDDoS(ctx, c.store, detect.DDoSOptions{Start: start, End: bucketEnd})
	if err != nil {
		return nil, err
	}
	portScan, err := detect.DetectPortScan(ctx, c.store, detect.PortScanOptions{Start: start, End: bucketEnd})
	if err != nil {
		return nil, err
	}

	var alerts []domain.Alert
	for _, d := range capSlice(bruteForce, maxPerType) {
		alerts = append(alerts, newAlert(d, bucketEnd, lookbackSeconds, now, describeBruteForce(d)))
		metrics.DetectionsTotal.WithLabelValues(string(d.AttackType), d.Severity.String()).Inc()
	}
	for _, d := range capSlice(ddos, maxPerType) {
		alerts = append(alerts, newAlert(d, bucketEnd, lookbackSeconds, now, describeDDoS(d)))
		metrics.DetectionsTotal.WithLabelValues(string(d.AttackType), d.Severity.String()).Inc()
	}
	for _, d := range capSlice(portScan, maxPerType) {
		alerts = append(alerts, newAlert(d, bucketEnd, lookbackSeconds, now, describePortScan(d)))
		metrics.DetectionsTotal.WithLabelValues(string(d.AttackType), d.Severity.String()).Inc()
	}

	sortAlerts(alerts)
	return alerts, nil
}

func capSlice(detections []domain.Detection, n int) []domain.Detection {
	if len(detections) > n {
		return detections[:n]
	}
	return detections
}

// newAlert converts a Detection into its materialized Alert; DDOS is the
// alert_type for both flood sub-detectors (alert_service.py groups them),
// while brute-force and port-scan keep their own detector's attack type.
func newAlert(d domain.Detection, bucketEnd time.Time, lookbackSeconds int, computedAt time.Time, description string) domain.Alert {
	alertType := d.AttackType
	if alertType == domain.AttackSingleIPFlood || alertType == domain.AttackDistributedFlood {
		alertType = "DDOS"
	}
	sourceIP := d.SourceIP
	if sourceIP == "" {
		sourceIP = "Multiple IPs"
	}
	return domain.Alert{
		Key: domain.AlertKey{
			BucketEnd:       bucketEnd,
			LookbackSeconds: lookbackSeconds,
			AlertType:       alertType,
			SourceIP:        sourceIP,
		},
		Severity:    d.Severity,
		FirstSeen:   d.FirstSeen,
		LastSeen:    d.LastSeen,
		Count:       d.TotalAttempts,
		Description: description,
		Details:     d,
		ComputedAt:  computedAt,
	}
}

func describeBruteForce(d domain.Detection) string {
	return fmt.Sprintf("Brute force attack: %d failed login attempts", d.TotalAttempts)
}

func describeDDoS(d domain.Detection) string {
	if d.AttackType == domain.AttackDistributedFlood {
		return fmt.Sprintf("Distributed DDoS: %d IPs, %d requests", len(d.AttackingIPs), d.TotalAttempts)
	}
	return fmt.Sprintf("Single IP flood: %d requests", d.TotalAttempts)
}

func describePortScan(d domain.Detection) string {
	return fmt.Sprintf("Port scan detected: %d unique ports attempted", d.UniquePortsAttempted)
}

func (c *Cache) upsertAll(ctx context.Context, alerts []domain.Alert) error {
	for _, a := range alerts {
		if err := c.upsert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) upsert(ctx context.Context, a domain.Alert) error {
	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("alertcache: marshal details: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO alerts (bucket_end, lookback_seconds, alert_type, source_ip, severity_rank,
			first_seen, last_seen, count, description, details, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket_end, lookback_seconds, alert_type, source_ip) DO UPDATE SET
			severity_rank=excluded.severity_rank, first_seen=excluded.first_seen,
			last_seen=excluded.last_seen, count=excluded.count, description=excluded.description,
			details=excluded.details, computed_at=excluded.computed_at`,
		a.Key.BucketEnd.UTC().Format(time.RFC3339Nano), a.Key.LookbackSeconds, a.Key.AlertType, a.Key.SourceIP,
		a.Severity.Rank(), a.FirstSeen.UTC().Format(time.RFC3339Nano), a.LastSeen.UTC().Format(time.RFC3339Nano),
		a.Count, a.Description, string(detailsJSON), a.ComputedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("alertcache: upsert: %w", err)
	}
	return nil
}

// sortAlerts orders by severity ascending in enum order (CRITICAL=0..LOW=3),
// then by last_seen descending (spec.md §4.5).
func sortAlerts(alerts []domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Severity.Rank() != alerts[j].Severity.Rank() {
			return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
		}
		return alerts[i].LastSeen.After(alerts[j].LastSeen)
	})
}
