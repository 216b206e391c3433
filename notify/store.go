// Package notify implements the Alert Notification Pipeline (spec.md §4.8):
// a periodic monitor that turns fresh Alerts into at most one deduplicated,
// rate-limited, severity- and ML-gated email per alert.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crlsmrls/fwatch/domain"
)

// Store persists sent-notification records: the durable half of
// deduplication (by key) and rate limiting (by source_ip, alert_type).
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("notify: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("notify: wal mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_type TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	severity_rank INTEGER NOT NULL,
	ml_risk_score REAL,
	ml_available INTEGER NOT NULL,
	recipients TEXT NOT NULL,
	sent_at TEXT NOT NULL,
	deduplication_key TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_notifications_rate_limit ON notifications(source_ip, alert_type, sent_at);
`)
	if err != nil {
		return fmt.Errorf("notify: migrate: %w", err)
	}
	return nil
}

// AlreadySent reports whether a notification with this deduplication key has
// ever been recorded (spec.md §4.8 step 2, §8 dedup invariant).
func (s *Store) AlreadySent(ctx context.Context, dedupKey string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE deduplication_key = ?`, dedupKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("notify: already_sent: %w", err)
	}
	return n > 0, nil
}

// RateLimited reports whether a notification for (sourceIP, alertType) was
// sent within the last window (spec.md §4.8 step 3).
func (s *Store) RateLimited(ctx context.Context, sourceIP string, alertType domain.AttackType, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE source_ip = ? AND alert_type = ? AND sent_at >= ?`,
		sourceIP, alertType, cutoff.Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("notify: rate_limited: %w", err)
	}
	return n > 0, nil
}

// Record persists a sent notification (spec.md §4.8 step 7).
func (s *Store) Record(ctx context.Context, rec domain.NotificationRecord, recipients []string) error {
	recipientsJoined := joinRecipients(recipients)
	var mlRisk any
	if rec.MLRiskScore != nil {
		mlRisk = *rec.MLRiskScore
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (alert_type, source_ip, severity_rank, ml_risk_score, ml_available, recipients, sent_at, deduplication_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AlertType, rec.SourceIP, rec.Severity.Rank(), mlRisk, boolToInt(rec.MLAvailable),
		recipientsJoined, rec.SentAt.UTC().Format(time.RFC3339Nano), rec.DeduplicationKey)
	if err != nil {
		return fmt.Errorf("notify: record: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinRecipients(recipients []string) string {
	out := ""
	for i, r := range recipients {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}
