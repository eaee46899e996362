package edb

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// fakeStore is an in-memory Store with failure injection. It keeps whole
// copies of its state so a transaction can be discarded.
type fakeStore struct {
	mu      sync.Mutex
	writer  sync.Mutex
	state   fakeState
	failPut error // returned by PutSnapshot
	failRB  error // returned by Rollback
	failCmt error // returned by Commit
	// extraCommits are returned by Commits in addition to the stored ones.
	extraCommits []record.CommitMeta
}

type fakeState struct {
	snaps   []record.Record
	commits []record.CommitMeta
}

func (s fakeState) clone() fakeState {
	return fakeState{snaps: slices.Clone(s.snaps), commits: slices.Clone(s.commits)}
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) current() fakeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.clone()
}

func (f *fakeStore) Snapshot(ctx context.Context, oid string, asOf int64) (record.Record, bool, error) {
	return f.current().snapshot(oid, asOf)
}

func (f *fakeStore) History(ctx context.Context, oid string, from, to int64) ([]record.Record, error) {
	return f.current().history(oid, from, to), nil
}

func (f *fakeStore) Head(ctx context.Context, q queryir.Head) ([]record.Record, error) {
	return f.current().head(q), nil
}

func (f *fakeStore) SnapshotsAt(ctx context.Context, ts int64) ([]record.Record, error) {
	return f.current().at(ts), nil
}

func (f *fakeStore) Commits(ctx context.Context, q queryir.Commits) ([]record.CommitMeta, error) {
	st := f.current()
	f.mu.Lock()
	st.commits = append(st.commits, f.extraCommits...)
	f.mu.Unlock()
	return st.query(q), nil
}

func (f *fakeStore) ResurrectedOIDs(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

func (f *fakeStore) LastTimestamp(ctx context.Context) (int64, error) {
	st := f.current()
	if len(st.commits) == 0 {
		return 0, nil
	}
	return st.commits[len(st.commits)-1].Timestamp, nil
}

func (f *fakeStore) Begin(ctx context.Context) (Tx, error) {
	f.writer.Lock()
	return &fakeTx{store: f, state: f.current()}, nil
}

func (f *fakeStore) Close() error { return nil }

func (s fakeState) snapshot(oid string, asOf int64) (record.Record, bool, error) {
	var (
		out   record.Record
		found bool
	)
	for _, r := range s.snaps {
		if r.OID == oid && r.Timestamp <= asOf && (!found || r.Timestamp > out.Timestamp) {
			out, found = r, true
		}
	}
	return out.Clone(), found, nil
}

func (s fakeState) history(oid string, from, to int64) []record.Record {
	out := []record.Record{}
	for _, r := range s.snaps {
		if r.OID == oid && r.Timestamp >= from && r.Timestamp <= to {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b record.Record) int { return cmp.Compare(a.Timestamp, b.Timestamp) })
	return out
}

func (s fakeState) head(q queryir.Head) []record.Record {
	seen := map[string]bool{}
	out := []record.Record{}
	for _, r := range s.snaps {
		if seen[r.OID] {
			continue
		}
		seen[r.OID] = true
		latest, ok, _ := s.snapshot(r.OID, q.AsOf)
		if ok && latest.Active() && queryir.Match(q.Filter, latest.Fields) {
			out = append(out, latest)
		}
	}
	slices.SortFunc(out, func(a, b record.Record) int { return cmp.Compare(a.OID, b.OID) })
	return out
}

func (s fakeState) at(ts int64) []record.Record {
	out := []record.Record{}
	for _, r := range s.snaps {
		if r.Timestamp == ts {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b record.Record) int { return cmp.Compare(a.OID, b.OID) })
	return out
}

func (s fakeState) query(q queryir.Commits) []record.CommitMeta {
	out := []record.CommitMeta{}
	for _, m := range s.commits {
		switch {
		case q.Committer != "" && m.Committer != q.Committer,
			q.Context != "" && m.Context != q.Context,
			q.Revision != "" && m.Revision != q.Revision,
			q.OID != "" && !m.Touches(q.OID),
			q.From != 0 && m.Timestamp < q.From,
			q.To != 0 && m.Timestamp > q.To:
			continue
		}
		if q.Fields != nil {
			matched := false
			for _, r := range s.at(m.Timestamp) {
				if r.Active() && queryir.Match(q.Fields, r.Fields) {
					matched = true
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b record.CommitMeta) int { return cmp.Compare(a.Timestamp, b.Timestamp) })
	if q.Last && len(out) > 0 {
		out = out[len(out)-1:]
	}
	return out
}

type fakeTx struct {
	store *fakeStore
	state fakeState
	done  bool
}

func (t *fakeTx) Snapshot(ctx context.Context, oid string, asOf int64) (record.Record, bool, error) {
	return t.state.snapshot(oid, asOf)
}

func (t *fakeTx) History(ctx context.Context, oid string, from, to int64) ([]record.Record, error) {
	return t.state.history(oid, from, to), nil
}

func (t *fakeTx) Head(ctx context.Context, q queryir.Head) ([]record.Record, error) {
	return t.state.head(q), nil
}

func (t *fakeTx) SnapshotsAt(ctx context.Context, ts int64) ([]record.Record, error) {
	return t.state.at(ts), nil
}

func (t *fakeTx) Commits(ctx context.Context, q queryir.Commits) ([]record.CommitMeta, error) {
	return t.state.query(q), nil
}

func (t *fakeTx) ResurrectedOIDs(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

func (t *fakeTx) LastTimestamp(ctx context.Context) (int64, error) {
	if len(t.state.commits) == 0 {
		return 0, nil
	}
	return t.state.commits[len(t.state.commits)-1].Timestamp, nil
}

func (t *fakeTx) PutSnapshot(ctx context.Context, r record.Record) error {
	if t.store.failPut != nil {
		return t.store.failPut
	}
	t.state.snaps = append(t.state.snaps, r.Clone())
	return nil
}

func (t *fakeTx) PutCommit(ctx context.Context, m record.CommitMeta) error {
	t.state.commits = append(t.state.commits, m)
	return nil
}

func (t *fakeTx) Commit() error {
	if t.done {
		return errors.New("tx done")
	}
	if t.store.failCmt != nil {
		return t.store.failCmt
	}
	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()
	t.done = true
	t.store.writer.Unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.writer.Unlock()
	return t.store.failRB
}
