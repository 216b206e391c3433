// Package eventstore is the append-mostly document store of Event records
// (spec.md §4.2): bulk insert, time-range scans, group-by aggregations, and
// a size-bounded retention policy. Backed by modernc.org/sqlite (a pure-Go,
// cgo-free driver) through database/sql so the store stays embeddable while
// still giving the custom CRITICAL<HIGH<MEDIUM<LOW severity order a real
// column to sort on, per spec.md §9's note that severity sorting needs a
// computed ordering column, not string order.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crlsmrls/fwatch/domain"
)

// Store is safe for concurrent use: database/sql hands the store's single
// sqlite connection (see Open) to one caller at a time, so reads and writes
// run one after another and a read waits while a write holds the connection.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a sqlite-backed event store at path. Use ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite writers serialize; one conn keeps that honest
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("eventstore: wal mode: %w", err)
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
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	destination_ip TEXT,
	source_port INTEGER,
	destination_port INTEGER,
	protocol TEXT,
	log_source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	severity_rank INTEGER NOT NULL,
	username TEXT,
	raw_log TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_source_ip ON events(source_ip);
CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity_rank);
CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_dest_port ON events(destination_port);
CREATE INDEX IF NOT EXISTS idx_events_protocol ON events(protocol);
CREATE INDEX IF NOT EXISTS idx_events_log_source ON events(log_source);
CREATE INDEX IF NOT EXISTS idx_events_ts_sev ON events(timestamp, severity_rank);
CREATE INDEX IF NOT EXISTS idx_events_ip_ts ON events(source_ip, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_sev_type_ts ON events(severity_rank, event_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_dport_ts ON events(destination_port, timestamp);
`)
	if err != nil {
		return fmt.Errorf("eventstore: migrate: %w", err)
	}
	return nil
}

// InsertMany appends events atomically as one batch (spec.md §4.2, §5:
// "bulk inserts are atomic per batch; no cross-batch ordering guarantee").
// Efficient for batches up to the ingestion pipeline's 1000-line cap.
func (s *Store) InsertMany(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventstore: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO events (timestamp, source_ip, destination_ip, source_port, destination_port,
	protocol, log_source, event_type, severity_rank, username, raw_log)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("eventstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.SourceIP, nullableString(e.DestinationIP), nullableInt(e.SourcePort),
			nullableInt(e.DestinationPort), nullableString(e.Protocol), e.LogSource,
			e.EventType, e.Severity.Rank(), nullableString(e.Username), e.RawLog)
		if err != nil {
			return fmt.Errorf("eventstore: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventstore: commit: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

// Filters selects the subset of events a query applies to; zero values mean
// "no constraint" on that field.
type Filters struct {
	SourceIP        string
	Severity        *domain.Severity
	EventType       string
	DestinationPort int
	Protocol        string
	LogSource       string
	Start, End      time.Time
	Substring       string // matched against source_ip, raw_log, username
}

func (f Filters) where() (string, []any) {
	var clauses []string
	var args []any
	if f.SourceIP != "" {
		clauses = append(clauses, "source_ip = ?")
		args = append(args, f.SourceIP)
	}
	if f.Severity != nil {
		clauses = append(clauses, "severity_rank = ?")
		args = append(args, f.Severity.Rank())
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.DestinationPort != 0 {
		clauses = append(clauses, "destination_port = ?")
		args = append(args, f.DestinationPort)
	}
	if f.Protocol != "" {
		clauses = append(clauses, "protocol = ?")
		args = append(args, f.Protocol)
	}
	if f.LogSource != "" {
		clauses = append(clauses, "log_source = ?")
		args = append(args, f.LogSource)
	}
	if !f.Start.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Start.UTC().Format(time.RFC3339Nano))
	}
	if !f.End.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.End.UTC().Format(time.RFC3339Nano))
	}
	if f.Substring != "" {
		clauses = append(clauses, "(source_ip LIKE ? OR raw_log LIKE ? OR username LIKE ?)")
		like := "%" + f.Substring + "%"
		args = append(args, like, like, like)
	}
	if len(clauses) == 0 {
		return "1=1", args
	}
	return strings.Join(clauses, " AND "), args
}

// SortField is one of the four columns the store accepts a sort request on.
type SortField string

const (
	SortTimestamp SortField = "timestamp"
	SortSeverity  SortField = "severity_rank"
	SortEventType SortField = "event_type"
	SortSourceIP  SortField = "source_ip"
)

// FindRange returns events matching filters, sorted and paginated, for the
// query-shapes the dashboard and browsing endpoints use.
func (s *Store) FindRange(ctx context.Context, filters Filters, sort SortField, descending bool, limit, offset int) ([]domain.Event, error) {
	where, args := filters.where()
	order := "ASC"
	if descending {
		order = "DESC"
	}
	if sort == "" {
		sort = SortTimestamp
	}
	q := fmt.Sprintf(`SELECT id, timestamp, source_ip, destination_ip, source_port, destination_port,
		protocol, log_source, event_type, severity_rank, username, raw_log
		FROM events WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?`, where, sort, order)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: find_range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ScanTimeRange returns events in [filters.Start, filters.End] ordered by
// timestamp ascending, the shape detectors consume (spec.md §4.2).
func (s *Store) ScanTimeRange(ctx context.Context, filters Filters) ([]domain.Event, error) {
	where, args := filters.where()
	q := fmt.Sprintf(`SELECT id, timestamp, source_ip, destination_ip, source_port, destination_port,
		protocol, log_source, event_type, severity_rank, username, raw_log
		FROM events WHERE %s ORDER BY timestamp ASC`, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: scan_time_range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			e                                  domain.Event
			ts                                 string
			destIP, protocol, username         sql.NullString
			srcPort, destPort, sevRank          sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &ts, &e.SourceIP, &destIP, &srcPort, &destPort,
			&protocol, &e.LogSource, &e.EventType, &sevRank, &username, &e.RawLog); err != nil {
			return nil, fmt.Errorf("eventstore: scan: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("eventstore: parse timestamp: %w", err)
		}
		e.Timestamp = parsed
		e.DestinationIP = destIP.String
		e.Protocol = protocol.String
		e.Username = username.String
		e.SourcePort = int(srcPort.Int64)
		e.DestinationPort = int(destPort.Int64)
		e.Severity = domain.Severity(sevRank.Int64)
		events = append(events, e)
	}
	return events, rows.Err()
}
