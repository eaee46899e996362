package edb

import (
	"context"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// Reader is the read side of a record store.
//
// Implementations return results in deterministic order and never return
// nil slices. Timestamp bounds are inclusive.
type Reader interface {
	// Snapshot returns the newest snapshot of oid with ts <= asOf, tombstones
	// included; false when there is none.
	Snapshot(ctx context.Context, oid string, asOf int64) (record.Record, bool, error)

	// History returns the snapshots of oid with from <= ts <= to, oldest first.
	History(ctx context.Context, oid string, from, to int64) ([]record.Record, error)

	// Head returns the live snapshots at q.AsOf that match q.Filter, by OID.
	Head(ctx context.Context, q queryir.Head) ([]record.Record, error)

	// SnapshotsAt returns every snapshot written at exactly ts, by OID.
	SnapshotsAt(ctx context.Context, ts int64) ([]record.Record, error)

	// Commits returns the commits matching q, by timestamp.
	Commits(ctx context.Context, q queryir.Commits) ([]record.CommitMeta, error)

	// ResurrectedOIDs returns OIDs with a live snapshot after a tombstone, sorted.
	ResurrectedOIDs(ctx context.Context) ([]string, error)

	// LastTimestamp returns the newest commit timestamp, 0 when empty.
	LastTimestamp(ctx context.Context) (int64, error)
}

// Tx is a write transaction.
//
// A Tx must exclude every other Tx on the same store from Begin until
// Commit or Rollback, and its writes must become visible all at once. Reads
// through the Tx see the committed state plus the Tx's own writes.
type Tx interface {
	Reader

	PutSnapshot(ctx context.Context, r record.Record) error
	PutCommit(ctx context.Context, m record.CommitMeta) error

	Commit() error
	// Rollback discards the writes. Calling it after Commit is a no-op.
	Rollback() error
}

// Store is a record store backend.
type Store interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
