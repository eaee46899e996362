package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/edb/internal/record"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// snap creates a live snapshot for tests.
func snap(oid string, ts, version int64, fields record.Fields) record.Record {
	return record.Record{OID: oid, Timestamp: ts, Version: version, Fields: fields}
}

// writeCommit writes snapshots and their commit in one transaction,
// deriving the entry lists from the snapshots: version 1 is an insert,
// tombstones are deletes, anything else an update.
func writeCommit(t *testing.T, s *Store, ts int64, revision string, snaps ...record.Record) record.CommitMeta {
	t.Helper()
	ctx := context.Background()

	m := record.CommitMeta{
		Timestamp: ts,
		Revision:  revision,
		Committer: "tester",
		Context:   "ctx",
	}
	for _, r := range snaps {
		switch {
		case r.Deleted:
			m.Deleted = append(m.Deleted, r.OID)
		case r.Version == 1:
			m.Inserted = append(m.Inserted, r.OID)
		default:
			m.Updated = append(m.Updated, r.OID)
		}
	}
	m = m.Normalize()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	for _, r := range snaps {
		if err := tx.PutSnapshot(ctx, r); err != nil {
			t.Fatalf("PutSnapshot(%s) failed: %v", r.OID, err)
		}
	}
	if err := tx.PutCommit(ctx, m); err != nil {
		t.Fatalf("PutCommit() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return m
}
