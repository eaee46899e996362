package edb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/edb/internal/record"
	"github.com/roach88/edb/internal/testutil"
)

// newTestDB creates a Database over store with a deterministic clock and
// revisions.
func newTestDB(t *testing.T, store Store, opts ...DatabaseOption) *Database {
	t.Helper()
	clock := testutil.NewSteppingClock(1000, 1000)
	base := []DatabaseOption{
		WithNow(clock.Next),
		WithRevisionGenerator(testutil.NewSequentialRevisions("")),
		WithLogger(testutil.DiscardLogger()),
	}
	db, err := New(context.Background(), store, append(base, opts...)...)
	require.NoError(t, err)
	return db
}

// fields builds a payload from key/value pairs.
func fields(kv ...any) record.Fields {
	f := record.Fields{}
	for i := 0; i < len(kv); i += 2 {
		v, err := record.ValueFromAny(kv[i+1])
		if err != nil {
			panic(err)
		}
		f[kv[i].(string)] = v
	}
	return f
}

// mustApply builds and applies a commit.
func mustApply(t *testing.T, db *Database, build func(c *Commit)) int64 {
	t.Helper()
	c := NewCommit("tester", "ctx")
	build(c)
	ts, err := db.Apply(context.Background(), c)
	require.NoError(t, err)
	return ts
}

func insert(t *testing.T, c *Commit, oid string, f record.Fields) {
	t.Helper()
	require.NoError(t, c.Insert(record.New(oid, f)))
}
