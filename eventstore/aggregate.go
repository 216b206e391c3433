package eventstore

import (
	"context"
	"fmt"
	"time"
)

// TopNEntry is one row of an aggregate_topN result: a value (IP or port) with
// its total count and a per-severity breakdown.
type TopNEntry struct {
	Value            string         `json:"value"`
	Count            int            `json:"count"`
	SeverityBreakdown map[string]int `json:"severity_breakdown"`
}

var severityNames = []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"}

// AggregateTopN returns the top-N values (by event count) of field, which
// must be "source_ip" or "destination_port", within [start, end], plus a
// per-severity breakdown for each (spec.md §4.2).
func (s *Store) AggregateTopN(ctx context.Context, field string, start, end time.Time, n int) ([]TopNEntry, error) {
	if field != "source_ip" && field != "destination_port" {
		return nil, fmt.Errorf("eventstore: aggregate_topN: unsupported field %q", field)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, COUNT(*) as cnt FROM events
		WHERE timestamp >= ? AND timestamp <= ? AND %s IS NOT NULL
		GROUP BY %s ORDER BY cnt DESC LIMIT ?`, field, field, field),
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano), n)
	if err != nil {
		return nil, fmt.Errorf("eventstore: aggregate_topN: %w", err)
	}
	defer rows.Close()

	var results []TopNEntry
	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("eventstore: aggregate_topN scan: %w", err)
		}
		results = append(results, TopNEntry{Value: value, Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		breakdown, err := s.severityBreakdown(ctx, field, results[i].Value, start, end)
		if err != nil {
			return nil, err
		}
		results[i].SeverityBreakdown = breakdown
	}
	return results, nil
}

func (s *Store) severityBreakdown(ctx context.Context, field, value string, start, end time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT severity_rank, COUNT(*) FROM events
		WHERE timestamp >= ? AND timestamp <= ? AND %s = ?
		GROUP BY severity_rank`, field),
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano), value)
	if err != nil {
		return nil, fmt.Errorf("eventstore: severity_breakdown: %w", err)
	}
	defer rows.Close()

	breakdown := map[string]int{}
	for rows.Next() {
		var rank, count int
		if err := rows.Scan(&rank, &count); err != nil {
			return nil, err
		}
		if rank >= 0 && rank < len(severityNames) {
			breakdown[severityNames[rank]] = count
		}
	}
	return breakdown, rows.Err()
}

// HourlyBucket is one row of an aggregate_hourly result.
type HourlyBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// AggregateHourly counts events bucketed by hour string "YYYY-MM-DDTHH:00:00"
// within [start, end] (spec.md §4.2).
func (s *Store) AggregateHourly(ctx context.Context, start, end time.Time) ([]HourlyBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%dT%H:00:00', timestamp) as hour, COUNT(*) FROM events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY hour ORDER BY hour ASC`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("eventstore: aggregate_hourly: %w", err)
	}
	defer rows.Close()

	var buckets []HourlyBucket
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
