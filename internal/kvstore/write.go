package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/record"
)

var errTxDone = errors.New("transaction already finished")

// Tx is a write transaction over an indexed batch. Reads through a Tx see
// its own writes.
type Tx struct {
	reader
	store   *Store
	batch   *pebble.Batch
	written map[string]int64
	done    bool
}

var _ edb.Tx = (*Tx)(nil)

// PutSnapshot writes one snapshot and indexes it under its commit.
// Fails if a snapshot for (oid, ts) already exists.
func (t *Tx) PutSnapshot(ctx context.Context, rec record.Record) error {
	if t.done {
		return errTxDone
	}
	key := snapshotKey(rec.OID, rec.Timestamp)
	existing, err := t.get(key)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", rec.OID, err)
	}
	if existing != nil {
		return fmt.Errorf("write snapshot %s: snapshot at %d already exists", rec.OID, rec.Timestamp)
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", rec.OID, err)
	}
	if err := t.batch.Set(key, val, nil); err != nil {
		return fmt.Errorf("write snapshot %s: %w", rec.OID, err)
	}
	if err := t.batch.Set(touchedKey(rec.Timestamp, rec.OID), nil, nil); err != nil {
		return fmt.Errorf("write snapshot %s: %w", rec.OID, err)
	}
	if rec.Timestamp > t.written[rec.OID] {
		t.written[rec.OID] = rec.Timestamp
	}
	return nil
}

// PutCommit writes commit metadata and its revision index entry.
// Fails if the timestamp or the revision is taken.
func (t *Tx) PutCommit(ctx context.Context, m record.CommitMeta) error {
	if t.done {
		return errTxDone
	}
	for _, key := range [][]byte{commitKey(m.Timestamp), revisionKey(m.Revision)} {
		existing, err := t.get(key)
		if err != nil {
			return fmt.Errorf("write commit %d: %w", m.Timestamp, err)
		}
		if existing != nil {
			return fmt.Errorf("write commit %d: key %q already exists", m.Timestamp, key)
		}
	}

	val, err := json.Marshal(m.Normalize())
	if err != nil {
		return fmt.Errorf("write commit %d: %w", m.Timestamp, err)
	}
	if err := t.batch.Set(commitKey(m.Timestamp), val, nil); err != nil {
		return fmt.Errorf("write commit %d: %w", m.Timestamp, err)
	}
	if err := t.batch.Set(revisionKey(m.Revision), tsBytes(m.Timestamp), nil); err != nil {
		return fmt.Errorf("write commit %d: %w", m.Timestamp, err)
	}
	return nil
}

// Commit applies the batch durably and releases the writer lock. If it
// fails the transaction stays open and must be rolled back.
func (t *Tx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.store.published.Lock()
	if err := t.batch.Commit(pebble.Sync); err != nil {
		t.store.published.Unlock()
		return fmt.Errorf("commit: %w", err)
	}
	for oid, ts := range t.written {
		t.store.latest.Compute(oid, func(old int64, loaded bool) (int64, bool) {
			return max(old, ts), false
		})
	}
	t.store.published.Unlock()
	t.finish()
	return nil
}

// Rollback discards the batch. It is safe to call after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	_ = t.batch.Close()
	t.done = true
	t.store.writer.Unlock()
}
