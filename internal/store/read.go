package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/querysql"
	"github.com/roach88/edb/internal/record"
)

// querier is the subset of *sql.DB and *sql.Tx the read paths use.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// reader implements the read side of the store over either the database or
// an open transaction.
//
// Every query orders its results, and rows are always fully drained and
// closed before the next query runs: the pool holds a single connection.
type reader struct {
	q        querier
	compiler *querysql.SQLCompiler
}

// Snapshot returns the newest snapshot of oid with ts <= asOf, tombstones
// included. The bool is false when no such snapshot exists.
func (r reader) Snapshot(ctx context.Context, oid string, asOf int64) (record.Record, bool, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+querysql.SnapshotColumns+`
		FROM snapshots s
		WHERE s.oid = ? AND s.ts <= ?
		ORDER BY s.ts DESC
		LIMIT 1
	`, oid, asOf)
	if err != nil {
		return record.Record{}, false, fmt.Errorf("query snapshot %s: %w", oid, err)
	}
	recs, err := scanSnapshots(rows)
	if err != nil {
		return record.Record{}, false, fmt.Errorf("query snapshot %s: %w", oid, err)
	}
	if len(recs) == 0 {
		return record.Record{}, false, nil
	}
	return recs[0], true, nil
}

// History returns every snapshot of oid with from <= ts <= to, oldest first.
// Returns an empty slice (not nil) if there are none.
func (r reader) History(ctx context.Context, oid string, from, to int64) ([]record.Record, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+querysql.SnapshotColumns+`
		FROM snapshots s
		WHERE s.oid = ? AND s.ts >= ? AND s.ts <= ?
		ORDER BY s.ts ASC
	`, oid, from, to)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", oid, err)
	}
	recs, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", oid, err)
	}
	return recs, nil
}

// Head returns the live snapshot of every object at q.AsOf that satisfies
// q.Filter, ordered by OID.
func (r reader) Head(ctx context.Context, q queryir.Head) ([]record.Record, error) {
	sqlText, params, err := r.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile head: %w", err)
	}
	rows, err := r.q.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query head: %w", err)
	}
	recs, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("query head: %w", err)
	}
	return recs, nil
}

// SnapshotsAt returns every snapshot written at exactly ts, ordered by OID.
func (r reader) SnapshotsAt(ctx context.Context, ts int64) ([]record.Record, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+querysql.SnapshotColumns+`
		FROM snapshots s
		WHERE s.ts = ?
		ORDER BY s.oid COLLATE BINARY ASC
	`, ts)
	if err != nil {
		return nil, fmt.Errorf("query snapshots at %d: %w", ts, err)
	}
	recs, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("query snapshots at %d: %w", ts, err)
	}
	return recs, nil
}

// Commits returns commit metadata matching q, ordered by timestamp.
func (r reader) Commits(ctx context.Context, q queryir.Commits) ([]record.CommitMeta, error) {
	sqlText, params, err := r.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile commits: %w", err)
	}
	rows, err := r.q.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	metas, err := scanCommits(rows)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}

	// Entries are loaded after the commit rows are closed.
	for i := range metas {
		if err := r.loadEntries(ctx, &metas[i]); err != nil {
			return nil, err
		}
	}
	return metas, nil
}

// loadEntries fills the OID lists of a commit from commit_entries.
func (r reader) loadEntries(ctx context.Context, m *record.CommitMeta) error {
	rows, err := r.q.QueryContext(ctx, `
		SELECT oid, op
		FROM commit_entries
		WHERE ts = ?
		ORDER BY position ASC
	`, m.Timestamp)
	if err != nil {
		return fmt.Errorf("query commit entries %d: %w", m.Timestamp, err)
	}
	defer rows.Close()

	for rows.Next() {
		var oid, op string
		if err := rows.Scan(&oid, &op); err != nil {
			return fmt.Errorf("scan commit entry: %w", err)
		}
		switch op {
		case opInsert:
			m.Inserted = append(m.Inserted, oid)
		case opUpdate:
			m.Updated = append(m.Updated, oid)
		case opDelete:
			m.Deleted = append(m.Deleted, oid)
		default:
			return fmt.Errorf("commit %d: unknown entry op %q", m.Timestamp, op)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate commit entries: %w", err)
	}

	*m = m.Normalize()
	return nil
}

// ResurrectedOIDs returns OIDs with a live snapshot newer than one of their
// tombstones, sorted.
func (r reader) ResurrectedOIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT l.oid
		FROM snapshots l
		WHERE l.deleted = 0
		  AND EXISTS (
		    SELECT 1 FROM snapshots d
		    WHERE d.oid = l.oid AND d.deleted = 1 AND d.ts < l.ts
		  )
		ORDER BY l.oid COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query resurrected: %w", err)
	}
	defer rows.Close()

	oids := []string{}
	for rows.Next() {
		var oid string
		if err := rows.Scan(&oid); err != nil {
			return nil, fmt.Errorf("scan resurrected: %w", err)
		}
		oids = append(oids, oid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resurrected: %w", err)
	}
	return oids, nil
}

// LastTimestamp returns the newest commit timestamp, or 0 for an empty store.
func (r reader) LastTimestamp(ctx context.Context) (int64, error) {
	var ts int64
	if err := r.q.QueryRowContext(ctx, "SELECT COALESCE(MAX(ts), 0) FROM commits").Scan(&ts); err != nil {
		return 0, fmt.Errorf("query last timestamp: %w", err)
	}
	return ts, nil
}
