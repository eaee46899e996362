package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// reader implements the read side over either the database or an indexed
// batch. Predicates are evaluated in memory with queryir.Match.
type reader struct {
	r pebble.Reader
}

// scan yields every key/value with lo <= key < hi, in key order, or in
// reverse when reverse is set. The value slice is only valid until the
// next iteration.
func (rd reader) scan(lo, hi []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	it, err := rd.r.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer it.Close()

	first, next := it.First, it.Next
	if reverse {
		first, next = it.Last, it.Prev
	}
	for valid := first(); valid; valid = next() {
		more, err := fn(it.Key(), it.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return it.Error()
}

// get returns a copy of the value at key, or nil when it is absent.
func (rd reader) get(key []byte) ([]byte, error) {
	val, closer, err := rd.r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closeQuietly(closer)
	return slices.Clone(val), nil
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}

func decodeSnapshot(val []byte) (record.Record, error) {
	var r record.Record
	if err := json.Unmarshal(val, &r); err != nil {
		return record.Record{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return r, nil
}

func decodeCommit(val []byte) (record.CommitMeta, error) {
	var m record.CommitMeta
	if err := json.Unmarshal(val, &m); err != nil {
		return record.CommitMeta{}, fmt.Errorf("decode commit: %w", err)
	}
	return m.Normalize(), nil
}

// Snapshot returns the newest snapshot of oid with ts <= asOf.
func (rd reader) Snapshot(ctx context.Context, oid string, asOf int64) (record.Record, bool, error) {
	var (
		out   record.Record
		found bool
	)
	err := rd.scan(objectPrefix(oid), snapshotBound(oid, asOf), true, func(_, val []byte) (bool, error) {
		r, err := decodeSnapshot(val)
		if err != nil {
			return false, err
		}
		out, found = r, true
		return false, nil
	})
	if err != nil {
		return record.Record{}, false, fmt.Errorf("read snapshot %s: %w", oid, err)
	}
	return out, found, nil
}

// History returns the snapshots of oid with from <= ts <= to, oldest first.
func (rd reader) History(ctx context.Context, oid string, from, to int64) ([]record.Record, error) {
	out := []record.Record{}
	if from > to {
		return out, nil
	}
	lo := objectPrefix(oid)
	if from > 0 {
		lo = snapshotKey(oid, from)
	}
	err := rd.scan(lo, snapshotBound(oid, to), false, func(_, val []byte) (bool, error) {
		r, err := decodeSnapshot(val)
		if err != nil {
			return false, err
		}
		out = append(out, r)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", oid, err)
	}
	return out, nil
}

// lineages yields each object's snapshots, oldest first, objects in OID
// byte order.
func (rd reader) lineages(yieldErr *error) iter.Seq2[string, []record.Record] {
	return func(yield func(string, []record.Record) bool) {
		var (
			oid  string
			hist []record.Record
			stop bool
		)
		*yieldErr = rd.scan(snapshotPrefix, upperBound(snapshotPrefix), false, func(key, val []byte) (bool, error) {
			k, _, err := parseSnapshotKey(key)
			if err != nil {
				return false, err
			}
			if k != oid && len(hist) > 0 {
				if !yield(oid, hist) {
					stop = true
					return false, nil
				}
				hist = nil
			}
			oid = k
			r, err := decodeSnapshot(val)
			if err != nil {
				return false, err
			}
			hist = append(hist, r)
			return true, nil
		})
		if *yieldErr == nil && !stop && len(hist) > 0 {
			yield(oid, hist)
		}
	}
}

// Head returns the live snapshot of every object at q.AsOf that satisfies
// q.Filter, ordered by OID.
func (rd reader) Head(ctx context.Context, q queryir.Head) ([]record.Record, error) {
	if err := queryir.Validate(q); err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}

	out := []record.Record{}
	var scanErr error
	for _, hist := range rd.lineages(&scanErr) {
		i, ok := latestAt(hist, q.AsOf)
		if !ok || hist[i].Deleted || !queryir.Match(q.Filter, hist[i].Fields) {
			continue
		}
		out = append(out, hist[i])
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read head: %w", scanErr)
	}
	return out, nil
}

// latestAt returns the index of the newest snapshot with ts <= asOf.
func latestAt(hist []record.Record, asOf int64) (int, bool) {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Timestamp <= asOf {
			return i, true
		}
	}
	return 0, false
}

// SnapshotsAt returns every snapshot written at exactly ts, ordered by OID.
func (rd reader) SnapshotsAt(ctx context.Context, ts int64) ([]record.Record, error) {
	prefix := touchedPrefixAt(ts)
	var oids []string
	err := rd.scan(prefix, upperBound(prefix), false, func(key, _ []byte) (bool, error) {
		oids = append(oids, string(key[len(prefix):]))
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshots at %d: %w", ts, err)
	}

	out := make([]record.Record, 0, len(oids))
	for _, oid := range oids {
		val, err := rd.get(snapshotKey(oid, ts))
		if err != nil {
			return nil, fmt.Errorf("read snapshots at %d: %w", ts, err)
		}
		if val == nil {
			return nil, fmt.Errorf("read snapshots at %d: index lists %s without a snapshot", ts, oid)
		}
		r, err := decodeSnapshot(val)
		if err != nil {
			return nil, fmt.Errorf("read snapshots at %d: %w", ts, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Commits returns commit metadata matching q, ordered by timestamp.
func (rd reader) Commits(ctx context.Context, q queryir.Commits) ([]record.CommitMeta, error) {
	if err := queryir.Validate(q); err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}

	lo, hi := commitPrefix, upperBound(commitPrefix)
	if q.From > 0 {
		lo = commitKey(q.From)
	}
	if q.To > 0 && q.To < maxTS {
		hi = commitKey(q.To + 1)
	}
	if q.Revision != "" {
		val, err := rd.get(revisionKey(q.Revision))
		if err != nil {
			return nil, fmt.Errorf("read commits: %w", err)
		}
		if len(val) != 8 {
			return []record.CommitMeta{}, nil
		}
		ts := parseTS(val)
		if (q.From > 0 && ts < q.From) || (q.To > 0 && ts > q.To) {
			return []record.CommitMeta{}, nil
		}
		lo, hi = commitKey(ts), commitKey(ts+1)
	}

	out := []record.CommitMeta{}
	err := rd.scan(lo, hi, q.Last, func(_, val []byte) (bool, error) {
		m, err := decodeCommit(val)
		if err != nil {
			return false, err
		}
		ok, err := rd.commitMatches(ctx, q, m)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		out = append(out, m)
		return !q.Last, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}
	return out, nil
}

func (rd reader) commitMatches(ctx context.Context, q queryir.Commits, m record.CommitMeta) (bool, error) {
	switch {
	case q.Committer != "" && m.Committer != q.Committer:
		return false, nil
	case q.Context != "" && m.Context != q.Context:
		return false, nil
	case q.Revision != "" && m.Revision != q.Revision:
		return false, nil
	case q.OID != "" && !m.Touches(q.OID):
		return false, nil
	case q.Fields == nil:
		return true, nil
	}

	snaps, err := rd.SnapshotsAt(ctx, m.Timestamp)
	if err != nil {
		return false, err
	}
	for _, s := range snaps {
		if !s.Deleted && queryir.Match(q.Fields, s.Fields) {
			return true, nil
		}
	}
	return false, nil
}

// ResurrectedOIDs returns OIDs with a live snapshot newer than one of their
// tombstones, sorted.
func (rd reader) ResurrectedOIDs(ctx context.Context) ([]string, error) {
	out := []string{}
	var scanErr error
	for oid, hist := range rd.lineages(&scanErr) {
		deleted := false
		for _, s := range hist {
			if s.Deleted {
				deleted = true
			} else if deleted {
				out = append(out, oid)
				break
			}
		}
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read resurrected: %w", scanErr)
	}
	return out, nil
}

// LastTimestamp returns the newest commit timestamp, 0 when empty.
func (rd reader) LastTimestamp(ctx context.Context) (int64, error) {
	var last int64
	err := rd.scan(commitPrefix, upperBound(commitPrefix), true, func(key, _ []byte) (bool, error) {
		ts, err := parseCommitKey(key)
		last = ts
		return false, err
	})
	if err != nil {
		return 0, fmt.Errorf("read last timestamp: %w", err)
	}
	return last, nil
}
