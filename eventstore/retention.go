package eventstore

import (
	"context"
	"fmt"
)

const (
	minBatch = 100
	maxBatch = 10000
)

// SizeBytes estimates the store's in-use size from sqlite's own page
// accounting (pages in the file minus pages on the free list, since a DELETE
// returns pages to the free list without shrinking the file), standing in
// for the Mongo collStats byte count the original used
// (retention_service.py's _get_collection_size_bytes).
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	var pageCount, freePages, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("eventstore: page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&freePages); err != nil {
		return 0, fmt.Errorf("eventstore: freelist_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("eventstore: page_size: %w", err)
	}
	return (pageCount - freePages) * pageSize, nil
}

func (s *Store) count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// EnforceRetention trims the store to maxSizeMB by deleting the oldest
// events in batches sized to free approximately deleteSizeMB per cycle,
// estimating batch size from the average document size times a 1.2 safety
// buffer, clamped to [100, 10000] rows (spec.md §4.2, retention_service.py).
// Stops as soon as size is at or under the cap, or a cycle deletes nothing.
// Never blocks ingestion: callers run this from a background worker, not the
// request path.
func (s *Store) EnforceRetention(ctx context.Context, maxSizeMB, deleteSizeMB float64) (int64, error) {
	maxBytes := int64(maxSizeMB * 1024 * 1024)
	deleteBytes := deleteSizeMB * 1024 * 1024

	var totalDeleted int64
	for {
		size, err := s.SizeBytes(ctx)
		if err != nil {
			return totalDeleted, err
		}
		if size <= maxBytes {
			return totalDeleted, nil
		}

		rowCount, err := s.count(ctx)
		if err != nil {
			return totalDeleted, err
		}
		if rowCount == 0 {
			return totalDeleted, nil
		}

		avgDocSize := (float64(size) / float64(rowCount)) * 1.2
		batch := int64(deleteBytes / avgDocSize)
		if batch < minBatch {
			batch = minBatch
		}
		if batch > maxBatch {
			batch = maxBatch
		}

		res, err := s.db.ExecContext(ctx, `
			DELETE FROM events WHERE id IN (
				SELECT id FROM events ORDER BY timestamp ASC LIMIT ?
			)`, batch)
		if err != nil {
			return totalDeleted, fmt.Errorf("eventstore: retention delete: %w", err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return totalDeleted, err
		}
		totalDeleted += deleted
		if deleted == 0 {
			return totalDeleted, nil
		}
	}
}
