package autoblock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crlsmrls/fwatch/domain"
)

// Store persists the blocklist: one row per IP holding its latest
// block/unblock state, which the cooldown check reads. A new block or
// unblock overwrites that row, so earlier transitions are not kept.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("autoblock: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("autoblock: wal mode: %w", err)
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
CREATE TABLE IF NOT EXISTS blocklist (
	ip TEXT PRIMARY KEY,
	blocked_at TEXT NOT NULL,
	is_active INTEGER NOT NULL,
	reason TEXT NOT NULL,
	blocked_by TEXT NOT NULL,
	unblocked_at TEXT,
	unblocked_by TEXT
);
`)
	if err != nil {
		return fmt.Errorf("autoblock: migrate: %w", err)
	}
	return nil
}

// IsBlocked reports whether ip currently has an active block entry.
func (s *Store) IsBlocked(ctx context.Context, ip string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocklist WHERE ip = ? AND is_active = 1`, ip).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("autoblock: is_blocked: %w", err)
	}
	return n > 0, nil
}

// InCooldown reports whether ip was unblocked within the last cooldownHours
// and so should not be re-blocked yet (spec.md §4.9, §8 scenario 6).
func (s *Store) InCooldown(ctx context.Context, ip string, cooldownHours int) (bool, error) {
	var unblockedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT unblocked_at FROM blocklist WHERE ip = ?`, ip).Scan(&unblockedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("autoblock: in_cooldown: %w", err)
	}
	if !unblockedAt.Valid || unblockedAt.String == "" {
		return false, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, unblockedAt.String)
	if err != nil {
		return false, fmt.Errorf("autoblock: parse unblocked_at: %w", err)
	}
	cooldownEnd := ts.Add(time.Duration(cooldownHours) * time.Hour)
	return time.Now().UTC().Before(cooldownEnd), nil
}

// Block upserts an active blocklist entry (idempotent: blocking an
// already-blocked IP just refreshes blocked_at/reason).
func (s *Store) Block(ctx context.Context, ip, reason, blockedBy string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO blocklist (ip, blocked_at, is_active, reason, blocked_by, unblocked_at, unblocked_by)
VALUES (?, ?, 1, ?, ?, NULL, NULL)
ON CONFLICT(ip) DO UPDATE SET
	blocked_at = excluded.blocked_at,
	is_active = 1,
	reason = excluded.reason,
	blocked_by = excluded.blocked_by,
	unblocked_at = NULL,
	unblocked_by = NULL`,
		ip, at.UTC().Format(time.RFC3339Nano), reason, blockedBy)
	if err != nil {
		return fmt.Errorf("autoblock: block: %w", err)
	}
	return nil
}

// Unblock marks ip inactive and stamps the cooldown start.
func (s *Store) Unblock(ctx context.Context, ip, unblockedBy string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE blocklist SET is_active = 0, unblocked_at = ?, unblocked_by = ? WHERE ip = ?`,
		at.UTC().Format(time.RFC3339Nano), unblockedBy, ip)
	if err != nil {
		return fmt.Errorf("autoblock: unblock: %w", err)
	}
	return nil
}

// List returns blocklist entries, optionally filtered to active-only.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]domain.BlocklistEntry, error) {
	query := `SELECT ip, blocked_at, is_active, reason, blocked_by, unblocked_at, unblocked_by FROM blocklist`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY blocked_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("autoblock: list: %w", err)
	}
	defer rows.Close()

	var entries []domain.BlocklistEntry
	for rows.Next() {
		var (
			e                          domain.BlocklistEntry
			blockedAt                  string
			isActive                   int
			unblockedAt, unblockedBy   sql.NullString
		)
		if err := rows.Scan(&e.IP, &blockedAt, &isActive, &e.Reason, &e.BlockedBy, &unblockedAt, &unblockedBy); err != nil {
			return nil, fmt.Errorf("autoblock: scan: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, blockedAt)
		if err != nil {
			return nil, fmt.Errorf("autoblock: parse blocked_at: %w", err)
		}
		e.BlockedAt = ts
		e.IsActive = isActive == 1
		e.UnblockedBy = unblockedBy.String
		if unblockedAt.Valid && unblockedAt.String != "" {
			parsed, err := time.Parse(time.RFC3339Nano, unblockedAt.String)
			if err != nil {
				return nil, fmt.Errorf("autoblock: parse unblocked_at: %w", err)
			}
			e.UnblockedAt = &parsed
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
