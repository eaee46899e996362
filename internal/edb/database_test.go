package edb_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/kvstore"
	"github.com/roach88/edb/internal/record"
	"github.com/roach88/edb/internal/store"
	"github.com/roach88/edb/internal/testutil"
)

// backend opens a store; calling it again after closing the previous store
// reopens the same data.
type backend struct {
	name string
	open func(t *testing.T) func() edb.Store
}

var backends = []backend{
	{
		name: "sqlite",
		open: func(t *testing.T) func() edb.Store {
			path := filepath.Join(t.TempDir(), "edb.db")
			return func() edb.Store {
				s, err := store.Open(path)
				require.NoError(t, err)
				return s
			}
		},
	},
	{
		name: "pebble",
		open: func(t *testing.T) func() edb.Store {
			fs := vfs.NewMem()
			return func() edb.Store {
				s, err := kvstore.Open("edb", kvstore.WithFS(fs))
				require.NoError(t, err)
				return s
			}
		},
	},
}

// forEachBackend runs fn against a fresh database on every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, db *edb.Database)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := openDB(t, b.open(t)(), testutil.NewDeterministicClock())
			fn(t, db)
		})
	}
}

func openDB(t *testing.T, s edb.Store, clock *testutil.DeterministicClock, opts ...edb.DatabaseOption) *edb.Database {
	t.Helper()
	base := []edb.DatabaseOption{
		edb.WithNow(clock.Next),
		edb.WithRevisionGenerator(testutil.NewSequentialRevisions("")),
		edb.WithLogger(testutil.DiscardLogger()),
	}
	db, err := edb.New(context.Background(), s, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func fields(t *testing.T, raw map[string]any) record.Fields {
	t.Helper()
	f, err := record.FieldsFromAny(raw)
	require.NoError(t, err)
	return f
}

func apply(t *testing.T, db *edb.Database, build func(c *edb.Commit)) int64 {
	t.Helper()
	c := edb.NewCommit("tester", "ctx")
	build(c)
	ts, err := db.Apply(context.Background(), c)
	require.NoError(t, err)
	return ts
}

func oids(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.OID
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		in := record.New("pump/1", fields(t, map[string]any{
			"name":  "Pump 1",
			"flow":  12.5,
			"count": 3,
			"on":    true,
		}))
		in.Fields["owner"] = record.Ref("team/a")

		start := testutil.DefaultEpoch
		ts := apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(in)) })

		got, err := db.GetObject(ctx, "pump/1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, ts, got.Timestamp)
		assert.GreaterOrEqual(t, got.Timestamp, start)
		assert.False(t, got.Deleted)
		assert.Equal(t, in.Fields, got.Fields)
	})
}

func TestDeleteSemantics(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Insert(record.New("a", nil)))
			require.NoError(t, c.Insert(record.New("b", nil)))
		})
		del := apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Delete("a")) })

		_, err := db.GetObject(ctx, "a")
		assert.True(t, edb.IsNotFound(err))

		head, err := db.GetHead(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, oids(head))

		hist, err := db.GetHistory(ctx, "a")
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.True(t, hist[1].Deleted)
		assert.Equal(t, del, hist[1].Timestamp)

		tomb, err := db.GetObjectAt(ctx, "a", del)
		require.NoError(t, err)
		assert.True(t, tomb.Deleted)

		_, err = db.Apply(ctx, func() *edb.Commit {
			c := edb.NewCommit("tester", "ctx")
			_ = c.Delete("a")
			return c
		}())
		assert.True(t, errors.Is(err, edb.ErrNotFound))
	})
}

func TestVersionMonotonicity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("a", nil))) })
		for i := 2; i <= 5; i++ {
			apply(t, db, func(c *edb.Commit) {
				require.NoError(t, c.Update(record.New("a", fields(t, map[string]any{"n": i}))))
			})
		}

		hist, err := db.GetHistory(ctx, "a")
		require.NoError(t, err)
		var versions []int64
		for _, r := range hist {
			versions = append(versions, r.Version)
		}
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, versions)
	})
}

func TestConflictScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Insert(record.New("A", fields(t, map[string]any{"x": 1}))))
		})

		u1 := record.Record{OID: "A", Version: 1, Fields: fields(t, map[string]any{"x": 2})}
		u2 := record.Record{OID: "A", Version: 1, Fields: fields(t, map[string]any{"x": 3})}

		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Update(u1)) })
		got, err := db.GetObject(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)

		c := edb.NewCommit("tester", "ctx")
		require.NoError(t, c.Update(u2))
		_, err = db.Apply(ctx, c)

		var e *edb.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, edb.CodeConflict, e.Code)
		assert.Equal(t, "A", e.OID)
		assert.Equal(t, "x", e.Field)
	})
}

func TestIdempotentResubmission(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Insert(record.New("A", fields(t, map[string]any{"x": 1}))))
		})
		u1 := record.Record{OID: "A", Version: 1, Fields: fields(t, map[string]any{"x": 2})}

		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Update(u1)) })
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Update(u1)) })

		got, err := db.GetObject(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)

		hist, err := db.GetHistory(ctx, "A")
		require.NoError(t, err)
		assert.Len(t, hist, 2)
	})
}

func TestResurrection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("o", nil))) })
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("p", nil))) })
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Delete("o")) })
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Delete("p")) })
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("o", nil))) })

		got, err := db.GetObject(ctx, "o")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)

		res, err := db.GetResurrectedOIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"o"}, res)
	})
}

func TestDiffScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		t1 := apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Insert(record.New("A", fields(t, map[string]any{"x": 1}))))
		})
		t2 := apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Update(record.New("A", fields(t, map[string]any{"x": 2}))))
			require.NoError(t, c.Insert(record.New("B", nil)))
		})
		require.Greater(t, t2, t1)

		d, err := db.GetDiff(ctx, t1, t2)
		require.NoError(t, err)
		require.Len(t, d.HeadA, 1)
		assert.Equal(t, "A", d.HeadA[0].OID)
		assert.Equal(t, int64(1), d.HeadA[0].Version)
		require.Len(t, d.HeadB, 2)
		assert.Equal(t, []string{"A", "B"}, oids(d.HeadB))
		assert.Equal(t, int64(2), d.HeadB[0].Version)
		assert.Equal(t, int64(1), d.HeadB[1].Version)

		assert.Equal(t, []string{"B"}, d.Added())
		assert.Empty(t, d.Removed())
		assert.Equal(t, []string{"A"}, d.Changed())
		assert.Equal(t, t1, d.CommitA.Timestamp())
		assert.Equal(t, t2, d.CommitB.Timestamp())

		_, err = db.GetDiff(ctx, t1, t2+1)
		assert.True(t, errors.Is(err, edb.ErrNoCommitAt))
	})
}

func TestConcurrentDisjointCommits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		const n = 16

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			tss = map[int64]bool{}
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := edb.NewCommit(fmt.Sprintf("w%d", i), "ctx")
				if !assert.NoError(t, c.Insert(record.New(fmt.Sprintf("obj/%02d", i), nil))) {
					return
				}
				ts, err := db.Apply(ctx, c)
				if assert.NoError(t, err) {
					mu.Lock()
					tss[ts] = true
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Len(t, tss, n, "timestamps are unique")
		head, err := db.GetHead(ctx)
		require.NoError(t, err)
		assert.Len(t, head, n)
	})
}

func TestConcurrentStaleUpdates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Insert(record.New("A", fields(t, map[string]any{"x": 0}))))
		})

		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok, fails int
		)
		for i := 1; i <= n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := edb.NewCommit("w", "ctx")
				_ = c.Update(record.Record{OID: "A", Version: 1, Fields: record.Fields{"x": record.Int(i)}})
				_, err := db.Apply(ctx, c)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case edb.IsConflict(err):
					fails++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, ok, "exactly one stale update wins")
		assert.Equal(t, n-1, fails)

		got, err := db.GetObject(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})
}

func TestQuery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Insert(record.New("p1", record.Fields{"kind": record.String("Pump"), "owner": record.Ref("team/a")})))
			require.NoError(t, c.Insert(record.New("p2", record.Fields{"kind": record.String("pump"), "backupOwner": record.Ref("team/a")})))
			require.NoError(t, c.Insert(record.New("v1", record.Fields{"kind": record.String("valve"), "owner": record.Ref("team/b")})))
		})

		got, err := db.Query(ctx, map[string]record.Value{"kind": record.String("pump")})
		require.NoError(t, err)
		assert.Equal(t, []string{"p2"}, oids(got))

		got, err = db.Query(ctx, map[string]record.Value{"kind": record.String("PUMP")}, edb.CaseInsensitive())
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, oids(got))

		got, err = db.Query(ctx, map[string]record.Value{"kind": record.String("%a%")}, edb.Wildcards())
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, oids(got))

		got, err = db.Query(ctx, map[string]record.Value{"owner*": record.Ref("team/a")})
		require.NoError(t, err)
		assert.Equal(t, []string{"p1"}, oids(got))

		_, err = db.Query(ctx, map[string]record.Value{"version": record.Int(1)})
		assert.True(t, errors.Is(err, edb.ErrInvalidQuery))
	})
}

func TestQueryAsOf(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		t1 := apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Insert(record.New("a", record.Fields{"s": record.String("old")})))
		})
		apply(t, db, func(c *edb.Commit) {
			require.NoError(t, c.Update(record.New("a", record.Fields{"s": record.String("new")})))
		})

		got, err := db.Query(ctx, map[string]record.Value{"s": record.String("old")}, edb.AsOf(t1))
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, oids(got))

		got, err = db.Query(ctx, map[string]record.Value{"s": record.String("old")})
		require.NoError(t, err)
		assert.Empty(t, got)

		head, err := db.GetHeadAt(ctx, t1-1)
		require.NoError(t, err)
		assert.Empty(t, head)
	})
}

func TestGetLog(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		t1 := apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("a", nil))) })
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("b", nil))) })
		t3 := apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Delete("a")) })

		log, err := db.GetLog(ctx, "a", 0, 0)
		require.NoError(t, err)
		require.Len(t, log, 2)
		assert.Equal(t, t1, log[0].Commit.Timestamp())
		assert.Equal(t, t3, log[1].Commit.Timestamp())
		assert.True(t, log[1].Record.Deleted)
		assert.Equal(t, []string{"a"}, log[1].Commit.Deletes())

		log, err = db.GetLog(ctx, "a", t1+1, t3)
		require.NoError(t, err)
		assert.Len(t, log, 1)
	})
}

func TestGetCommits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		first := edb.NewCommit("alice", "plant")
		require.NoError(t, first.Insert(record.New("a", record.Fields{"kind": record.String("pump")})))
		t1, err := db.Apply(ctx, first)
		require.NoError(t, err)

		second := edb.NewCommit("bob", "plant")
		require.NoError(t, second.Insert(record.New("b", record.Fields{"kind": record.String("valve")})))
		t2, err := db.Apply(ctx, second)
		require.NoError(t, err)

		third := edb.NewCommit("alice", "office")
		require.NoError(t, third.Update(record.New("a", record.Fields{"kind": record.String("pump"), "n": record.Int(2)})))
		t3, err := db.Apply(ctx, third)
		require.NoError(t, err)

		byAlice, err := db.GetCommits(ctx, map[string]record.Value{edb.ParamCommitter: record.String("alice")})
		require.NoError(t, err)
		require.Len(t, byAlice, 2)
		assert.Equal(t, t1, byAlice[0].Timestamp())
		assert.Equal(t, t3, byAlice[1].Timestamp())

		pumps, err := db.GetCommits(ctx, map[string]record.Value{"kind": record.String("pump")})
		require.NoError(t, err)
		assert.Len(t, pumps, 2)

		before, err := db.GetCommits(ctx, map[string]record.Value{edb.ParamTimestamp: record.Int(t2)})
		require.NoError(t, err)
		assert.Len(t, before, 2)

		last, err := db.GetLastCommit(ctx, map[string]record.Value{edb.ParamContext: record.String("plant")})
		require.NoError(t, err)
		assert.Equal(t, t2, last.Timestamp())

		rev, err := db.LastRevisionOfContext(ctx, "plant")
		require.NoError(t, err)
		assert.Equal(t, last.Revision(), rev)

		byRev, err := db.GetCommitByRevision(ctx, rev)
		require.NoError(t, err)
		assert.Equal(t, t2, byRev.Timestamp())

		metas, err := db.CommitRevisions(ctx, edb.CommitQuery{From: t2})
		require.NoError(t, err)
		require.Len(t, metas, 2)
		assert.Equal(t, []string{"a"}, metas[1].Updated)

		state, err := db.GetStateOfLastCommitMatching(ctx, map[string]record.Value{edb.ParamCommitter: record.String("bob")})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, oids(state))
		assert.Equal(t, int64(1), state[0].Version)

		objs, err := db.GetObjects(ctx, []string{"b", "missing", "a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, oids(objs))
	})
}

func TestRevisionChain(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		rev, err := db.CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Empty(t, rev)

		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("a", nil))) })
		ts := apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("b", nil))) })

		c, err := db.GetCommit(ctx, ts)
		require.NoError(t, err)
		assert.Equal(t, "rev-0002", c.Revision())
		assert.Equal(t, "rev-0001", c.Parent)

		rev, err = db.CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, "rev-0002", rev)
	})
}

func TestReopenKeepsClockAhead(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			open := b.open(t)

			clock := testutil.NewDeterministicClock()
			s := open()
			db, err := edb.New(ctx, s, edb.WithNow(clock.Next), edb.WithLogger(testutil.DiscardLogger()))
			require.NoError(t, err)
			c := edb.NewCommit("tester", "ctx")
			require.NoError(t, c.Insert(record.New("a", nil)))
			t1, err := db.Apply(ctx, c)
			require.NoError(t, err)
			require.NoError(t, db.Close())

			// The wall clock went backwards while the database was closed.
			clock.Set(testutil.DefaultEpoch - 60_000)
			db = openDB(t, open(), clock)

			obj, err := db.GetObject(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, t1, obj.Timestamp)

			t2 := apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("b", nil))) })
			assert.Greater(t, t2, t1)
		})
	}
}

func TestVerify(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("a", nil))) })
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Delete("a")) })
		apply(t, db, func(c *edb.Commit) { require.NoError(t, c.Insert(record.New("a", nil))) })

		found, err := db.Verify(context.Background())
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestAlreadyCommitted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *edb.Database) {
		ctx := context.Background()
		c := edb.NewCommit("tester", "ctx")
		require.NoError(t, c.Insert(record.New("a", nil)))
		_, err := db.Apply(ctx, c)
		require.NoError(t, err)

		_, err = db.Apply(ctx, c)
		assert.True(t, errors.Is(err, edb.ErrAlreadyCommitted))
		assert.True(t, errors.Is(c.Insert(record.New("b", nil)), edb.ErrAlreadyCommitted))
	})
}
