package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/record"
)

// Tx is a write transaction. Reads through a Tx see its own writes.
type Tx struct {
	reader
	tx *sql.Tx
}

var _ edb.Tx = (*Tx)(nil)

// PutSnapshot writes one snapshot and its field rows.
// Fails if a snapshot for (oid, ts) already exists.
func (t *Tx) PutSnapshot(ctx context.Context, rec record.Record) error {
	fieldsJSON, err := marshalFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", rec.OID, err)
	}

	deleted := 0
	if rec.Deleted {
		deleted = 1
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO snapshots (oid, ts, version, deleted, fields)
		VALUES (?, ?, ?, ?, ?)
	`, rec.OID, rec.Timestamp, rec.Version, deleted, fieldsJSON)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", rec.OID, err)
	}

	for _, key := range rec.Fields.SortedKeys() {
		typ, text, err := record.Encode(rec.Fields[key])
		if err != nil {
			return fmt.Errorf("write snapshot %s: field %q: %w", rec.OID, key, err)
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO record_fields (oid, ts, key, type, value)
			VALUES (?, ?, ?, ?, ?)
		`, rec.OID, rec.Timestamp, key, typ, text)
		if err != nil {
			return fmt.Errorf("write snapshot %s: field %q: %w", rec.OID, key, err)
		}
	}

	return nil
}

// PutCommit writes commit metadata and its entry list.
func (t *Tx) PutCommit(ctx context.Context, m record.CommitMeta) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO commits (ts, revision, parent, committer, context, comment)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Timestamp, m.Revision, m.Parent, m.Committer, m.Context, m.Comment)
	if err != nil {
		return fmt.Errorf("write commit %d: %w", m.Timestamp, err)
	}

	position := 0
	for _, group := range []struct {
		op   string
		oids []string
	}{
		{opInsert, m.Inserted},
		{opUpdate, m.Updated},
		{opDelete, m.Deleted},
	} {
		for _, oid := range group.oids {
			_, err := t.tx.ExecContext(ctx, `
				INSERT INTO commit_entries (ts, oid, op, position)
				VALUES (?, ?, ?, ?)
			`, m.Timestamp, oid, group.op, position)
			if err != nil {
				return fmt.Errorf("write commit %d: entry %s: %w", m.Timestamp, oid, err)
			}
			position++
		}
	}

	return nil
}

// Commit makes every write of the transaction visible at once.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. It is safe to call after Commit.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
