package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/edb/internal/record"
)

// Commit entry operations as stored in commit_entries.op.
const (
	opInsert = "insert"
	opUpdate = "update"
	opDelete = "delete"
)

// marshalFields converts a payload to canonical JSON TEXT for storage.
func marshalFields(fields record.Fields) (string, error) {
	data, err := record.MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses canonical JSON TEXT. An empty payload decodes to nil
// so tombstones round-trip unchanged.
func unmarshalFields(data string) (record.Fields, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	fields, err := record.UnmarshalFields([]byte(data))
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// scanSnapshots drains and closes rows selected with querysql.SnapshotColumns.
// Returns an empty slice (not nil) if there are no rows.
func scanSnapshots(rows *sql.Rows) ([]record.Record, error) {
	defer rows.Close()

	recs := []record.Record{}
	for rows.Next() {
		var (
			rec     record.Record
			deleted int
			fields  string
		)
		if err := rows.Scan(&rec.OID, &rec.Timestamp, &rec.Version, &deleted, &fields); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		rec.Deleted = deleted != 0

		f, err := unmarshalFields(fields)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s@%d: %w", rec.OID, rec.Timestamp, err)
		}
		rec.Fields = f
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return recs, nil
}

// scanCommits drains and closes rows selected with querysql.CommitColumns.
// The OID lists are left empty; see reader.loadEntries.
func scanCommits(rows *sql.Rows) ([]record.CommitMeta, error) {
	defer rows.Close()

	metas := []record.CommitMeta{}
	for rows.Next() {
		var m record.CommitMeta
		if err := rows.Scan(&m.Timestamp, &m.Revision, &m.Parent, &m.Committer, &m.Context, &m.Comment); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return metas, nil
}
