package edb

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// Resolution is what checking a commit against the store decided.
//
// Inserts and Updates carry the versions to store. Unchanged lists stale
// updates whose fields all match the current record: they succeed without
// writing anything.
type Resolution struct {
	Inserts   []record.Record
	Updates   []record.Record
	Deletes   []string
	Unchanged []string
}

// Snapshots is the number of snapshots (including tombstones) the
// resolution writes.
func (r Resolution) Snapshots() int {
	return len(r.Inserts) + len(r.Updates) + len(r.Deletes)
}

// Detector validates a commit against the current state of a store.
//
// Rules:
//   - insert: the OID must have no active record; stored with version 1
//   - delete: the OID must have an active record
//   - update: the OID must have an active record. With no version, or the
//     current version, it is stored as current+1. With any other version
//     each submitted field is compared to the current record: the first
//     difference (a missing field counts) is a conflict; if none differ
//     the update is unchanged and not written.
//   - add: an update when an active record exists, otherwise an insert
//
// Every entry is checked and all failures are returned together.
type Detector struct{}

// Check resolves c against r without modifying c.
func (d Detector) Check(ctx context.Context, r Reader, c *Commit) (Resolution, error) {
	c.mu.Lock()
	entries, deletes := c.snapshot()
	c.mu.Unlock()
	return d.resolve(ctx, r, entries, deletes)
}

func (d Detector) resolve(ctx context.Context, r Reader, entries []entry, deletes []string) (Resolution, error) {
	res := Resolution{
		Inserts:   []record.Record{},
		Updates:   []record.Record{},
		Deletes:   []string{},
		Unchanged: []string{},
	}
	var errs []error

	for _, e := range entries {
		current, active, err := activeRecord(ctx, r, e.rec.OID)
		if err != nil {
			return Resolution{}, err
		}

		kind := e.kind
		if kind == kindAdd {
			kind = kindInsert
			if active {
				kind = kindUpdate
			}
		}

		rec := e.rec
		switch kind {
		case kindInsert:
			if active {
				errs = append(errs, NewAlreadyExistsError(rec.OID))
				continue
			}
			rec.Version = 1
			res.Inserts = append(res.Inserts, rec)

		case kindUpdate:
			if !active {
				errs = append(errs, NewNotFoundError(rec.OID))
				continue
			}
			if rec.Version == 0 || rec.Version == current.Version {
				rec.Version = current.Version + 1
				res.Updates = append(res.Updates, rec)
				continue
			}
			if field, differs := firstDifference(rec.Fields, current.Fields); differs {
				errs = append(errs, NewConflictError(rec.OID, field, rec.Version, current.Version))
				continue
			}
			res.Unchanged = append(res.Unchanged, rec.OID)
		}
	}

	for _, oid := range deletes {
		_, active, err := activeRecord(ctx, r, oid)
		if err != nil {
			return Resolution{}, err
		}
		if !active {
			errs = append(errs, NewNotFoundError(oid))
			continue
		}
		res.Deletes = append(res.Deletes, oid)
	}

	switch len(errs) {
	case 0:
		return res, nil
	case 1:
		return Resolution{}, errs[0]
	default:
		return Resolution{}, errors.Join(errs...)
	}
}

// activeRecord returns the latest snapshot of oid and whether it is live.
func activeRecord(ctx context.Context, r Reader, oid string) (record.Record, bool, error) {
	current, ok, err := r.Snapshot(ctx, oid, queryir.Latest)
	if err != nil {
		return record.Record{}, false, fmt.Errorf("read current %s: %w", oid, err)
	}
	return current, ok && current.Active(), nil
}

// firstDifference returns the first submitted field, in canonical key order,
// whose value is missing from or different in current.
func firstDifference(submitted, current record.Fields) (string, bool) {
	for _, k := range submitted.SortedKeys() {
		cur, ok := current[k]
		if !ok || !record.Equal(submitted[k], cur) {
			return k, true
		}
	}
	return "", false
}
