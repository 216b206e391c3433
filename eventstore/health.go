package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CountSince returns the number of events with timestamp >= since.
func (s *Store) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE timestamp >= ?`,
		since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	return n, err
}

// LastEventTimestamp returns the most recent event's timestamp, or ok=false
// if the store is empty.
func (s *Store) LastEventTimestamp(ctx context.Context) (ts time.Time, ok bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT timestamp FROM events ORDER BY timestamp DESC LIMIT 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed, true, nil
}
