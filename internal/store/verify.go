package store

import (
	"context"
	"fmt"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/record"
)

var _ edb.Verifier = (*Store)(nil)

// Verify checks that snapshots and commit entries agree, in SQL.
//
// It finds:
//   - commit entries with no snapshot at the commit's timestamp
//   - snapshots no commit entry lists
//   - delete entries whose snapshot is live, and the reverse
//   - live versions that do not count up from 1
//
// A store written only through edb.Database.Apply is always consistent;
// anything found means the file was modified outside the database or a
// write was torn.
func (s *Store) Verify(ctx context.Context) ([]edb.Inconsistency, error) {
	found := []edb.Inconsistency{}

	missing, err := s.queryInconsistencies(ctx, edb.KindMissingSnapshot, "commit lists object without a snapshot", `
		SELECT e.oid, e.ts
		FROM commit_entries e
		LEFT JOIN snapshots s ON s.oid = e.oid AND s.ts = e.ts
		WHERE s.oid IS NULL
		ORDER BY e.ts ASC, e.oid COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, err
	}
	found = append(found, missing...)

	orphans, err := s.queryInconsistencies(ctx, edb.KindOrphanSnapshot, "snapshot not listed by its commit", `
		SELECT s.oid, s.ts
		FROM snapshots s
		WHERE NOT EXISTS (
		  SELECT 1 FROM commit_entries e WHERE e.oid = s.oid AND e.ts = s.ts
		)
		ORDER BY s.ts ASC, s.oid COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, err
	}
	found = append(found, orphans...)

	mismatched, err := s.queryInconsistencies(ctx, edb.KindOpMismatch, "entry op disagrees with snapshot deleted flag", `
		SELECT e.oid, e.ts
		FROM commit_entries e
		JOIN snapshots s ON s.oid = e.oid AND s.ts = e.ts
		WHERE (e.op = 'delete') <> (s.deleted = 1)
		ORDER BY e.ts ASC, e.oid COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, err
	}
	found = append(found, mismatched...)

	gaps, err := s.versionGaps(ctx)
	if err != nil {
		return nil, err
	}
	found = append(found, gaps...)

	return found, nil
}

func (s *Store) queryInconsistencies(ctx context.Context, kind, detail, query string) ([]edb.Inconsistency, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", kind, err)
	}
	defer rows.Close()

	found := []edb.Inconsistency{}
	for rows.Next() {
		inc := edb.Inconsistency{Kind: kind, Detail: detail}
		if err := rows.Scan(&inc.OID, &inc.Timestamp); err != nil {
			return nil, fmt.Errorf("verify %s: scan: %w", kind, err)
		}
		found = append(found, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verify %s: iterate: %w", kind, err)
	}
	return found, nil
}

// versionGaps streams every snapshot grouped by OID and checks each
// object's lineage.
func (s *Store) versionGaps(ctx context.Context) ([]edb.Inconsistency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oid, ts, version, deleted
		FROM snapshots
		ORDER BY oid COLLATE BINARY ASC, ts ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("verify versions: %w", err)
	}
	defer rows.Close()

	found := []edb.Inconsistency{}
	var (
		oid  string
		hist []record.Record
	)
	for rows.Next() {
		var (
			r       record.Record
			deleted int
		)
		if err := rows.Scan(&r.OID, &r.Timestamp, &r.Version, &deleted); err != nil {
			return nil, fmt.Errorf("verify versions: scan: %w", err)
		}
		r.Deleted = deleted != 0
		if r.OID != oid {
			found = append(found, edb.CheckVersions(oid, hist)...)
			oid, hist = r.OID, hist[:0]
		}
		hist = append(hist, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verify versions: iterate: %w", err)
	}
	found = append(found, edb.CheckVersions(oid, hist)...)
	return found, nil
}
