package edb

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edb/internal/metrics"
	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
	"github.com/roach88/edb/internal/testutil"
)

func TestGetCommit_NonPositiveTimestamp(t *testing.T) {
	db := newTestDB(t, newFakeStore())
	for _, ts := range []int64{0, -1} {
		_, err := db.GetCommit(context.Background(), ts)
		assert.True(t, errors.Is(err, ErrNoCommitAt), "ts=%d", ts)
	}
}

func TestGetCommit_Ambiguous(t *testing.T) {
	store := newFakeStore()
	ts := mustApply(t, newTestDB(t, store), func(c *Commit) { insert(t, c, "a", nil) })
	store.extraCommits = []record.CommitMeta{{Timestamp: ts, Revision: "dup", Committer: "x", Context: "y"}}

	// A fresh database has nothing cached.
	logger, buf := testutil.BufferLogger()
	db := newTestDB(t, store, WithLogger(logger))
	_, err := db.GetCommit(context.Background(), ts)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, CodeAmbiguousCommit, e.Code)
	assert.Equal(t, ts, e.Timestamp)
	assert.Contains(t, buf.String(), "store corruption")
}

func TestGetCommit_UsesCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := newFakeStore()
	db := newTestDB(t, store, WithMetrics(metrics.New(reg)))
	ts := mustApply(t, db, func(c *Commit) { insert(t, c, "a", nil) })

	// Corrupting the store after the commit was cached is not visible.
	store.extraCommits = []record.CommitMeta{{Timestamp: ts, Revision: "dup"}}
	c, err := db.GetCommit(context.Background(), ts)
	require.NoError(t, err)
	assert.Equal(t, "rev-0001", c.Revision())

	_, err = db.GetCommit(context.Background(), ts+1)
	assert.True(t, errors.Is(err, ErrNoCommitAt))

	n, err := promtest.GatherAndCount(reg, "edb_commit_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetCommit_Hydrates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, newFakeStore())
	mustApply(t, db, func(c *Commit) {
		insert(t, c, "a", fields("x", 1))
		insert(t, c, "b", nil)
	})
	ts := mustApply(t, db, func(c *Commit) {
		require.NoError(t, c.Update(record.New("a", fields("x", 2))))
		require.NoError(t, c.Delete("b"))
		insert(t, c, "c", nil)
	})

	// Bypass the cache filled by Apply.
	c, err := newTestDB(t, db.Store()).GetCommit(ctx, ts)
	require.NoError(t, err)
	assert.True(t, c.IsCommitted())
	assert.Equal(t, ts, c.Timestamp())
	require.Len(t, c.Inserts(), 1)
	assert.Equal(t, "c", c.Inserts()[0].OID)
	require.Len(t, c.Updates(), 1)
	assert.Equal(t, int64(2), c.Updates()[0].Version)
	assert.Equal(t, []string{"b"}, c.Deletes())
	assert.Equal(t, "rev-0001", c.Parent)
}

func TestGetLog_InconsistentWhenSnapshotHasNoCommit(t *testing.T) {
	store := newFakeStore()
	logger, buf := testutil.BufferLogger()
	db := newTestDB(t, store, WithLogger(logger))
	mustApply(t, db, func(c *Commit) { insert(t, c, "a", nil) })

	store.mu.Lock()
	store.state.snaps = append(store.state.snaps, record.Record{OID: "a", Version: 2, Timestamp: 1500, Fields: record.Fields{}})
	store.mu.Unlock()

	_, err := db.GetLog(context.Background(), "a", 0, 0)
	assert.True(t, errors.Is(err, ErrInconsistentLog))
	assert.Contains(t, buf.String(), "store corruption")
}

func TestGetLog_InconsistentWhenTimestampsDisagree(t *testing.T) {
	store := newFakeStore()
	db := newTestDB(t, store)
	mustApply(t, db, func(c *Commit) { insert(t, c, "a", nil) })

	// Move the snapshot away from its commit.
	store.mu.Lock()
	store.state.snaps[0].Timestamp = 999
	store.mu.Unlock()

	_, err := db.GetLog(context.Background(), "a", 0, 0)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, CodeInconsistentLog, e.Code)
	assert.Equal(t, int64(999), e.Timestamp)
}

func TestGetLog_InvalidRange(t *testing.T) {
	db := newTestDB(t, newFakeStore())
	_, err := db.GetLog(context.Background(), "a", 10, 5)
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestCommitQuery(t *testing.T) {
	q, err := commitQuery(map[string]record.Value{
		ParamCommitter: record.String("alice"),
		ParamContext:   record.String("plant"),
		ParamRevision:  record.String("rev"),
		ParamOID:       record.String("a"),
		ParamTimestamp: record.Int(50),
		"kind":         record.String("pump"),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", q.Committer)
	assert.Equal(t, "plant", q.Context)
	assert.Equal(t, "rev", q.Revision)
	assert.Equal(t, "a", q.OID)
	assert.Equal(t, int64(50), q.To)
	assert.NotNil(t, q.Fields)

	q, err = commitQuery(nil)
	require.NoError(t, err)
	assert.Nil(t, q.Fields)
}

func TestCommitQuery_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]record.Value
	}{
		{"committer not string", map[string]record.Value{ParamCommitter: record.Int(1)}},
		{"oid is a ref", map[string]record.Value{ParamOID: record.Ref("a")}},
		{"timestamp string", map[string]record.Value{ParamTimestamp: record.String("1")}},
		{"timestamp zero", map[string]record.Value{ParamTimestamp: record.Int(0)}},
		{"reserved payload key", map[string]record.Value{"version": record.Int(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := commitQuery(tt.params)
			assert.True(t, errors.Is(err, ErrInvalidQuery), "got %v", err)
		})
	}
}

func TestFieldPredicate(t *testing.T) {
	p, err := fieldPredicate(nil, queryOptions{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = fieldPredicate(map[string]record.Value{"name": record.String("P-%")}, queryOptions{wildcards: true, fold: true})
	require.NoError(t, err)
	assert.Equal(t, queryir.Like{Field: "name", Pattern: "P-%", Fold: true}, p)

	p, err = fieldPredicate(map[string]record.Value{"name": record.String("P-_")}, queryOptions{wildcards: true})
	require.NoError(t, err)
	assert.IsType(t, queryir.Like{}, p)

	// * is an ordinary character in LIKE patterns
	p, err = fieldPredicate(map[string]record.Value{"name": record.String("P-*")}, queryOptions{wildcards: true})
	require.NoError(t, err)
	assert.Equal(t, queryir.Equals{Field: "name", Value: record.String("P-*")}, p)

	p, err = fieldPredicate(map[string]record.Value{"name": record.String("P-%")}, queryOptions{})
	require.NoError(t, err)
	assert.IsType(t, queryir.Equals{}, p)

	p, err = fieldPredicate(map[string]record.Value{"owner*": record.Ref("t"), "b": record.Int(1)}, queryOptions{})
	require.NoError(t, err)
	assert.IsType(t, queryir.And{}, p)
}

func TestGetLastCommit_NotFound(t *testing.T) {
	db := newTestDB(t, newFakeStore())
	_, err := db.GetLastCommit(context.Background(), nil)
	assert.True(t, IsNotFound(err))

	_, err = db.GetStateOfLastCommitMatching(context.Background(), map[string]record.Value{ParamCommitter: record.String("nobody")})
	assert.True(t, IsNotFound(err))
}
