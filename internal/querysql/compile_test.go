package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

func TestCompile_HeadNoFilter(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Head{AsOf: queryir.Latest})
	require.NoError(t, err)

	assert.Contains(t, sql, "SELECT "+SnapshotColumns+" FROM snapshots s")
	assert.Contains(t, sql, "MAX(m.ts)")
	assert.Contains(t, sql, "s.deleted = 0")
	assert.Contains(t, sql, "ORDER BY s.oid COLLATE BINARY ASC")
	assert.Equal(t, []any{queryir.Latest}, params)
}

func TestCompile_HeadEquals(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(&queryir.Head{
		AsOf:   42,
		Filter: queryir.Equals{Field: "status", Value: record.String("active")},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM record_fields f WHERE f.oid = s.oid AND f.ts = s.ts AND f.key = ? AND f.type = ? AND f.value = ?)")
	// values are parameterized, never interpolated
	assert.NotContains(t, sql, "active")
	assert.Equal(t, []any{int64(42), "status", "string", "active"}, params)
}

func TestCompile_FoldUsesRegisteredFunction(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Head{
		AsOf:   1,
		Filter: queryir.Equals{Field: "name", Value: record.String("Valve"), Fold: true},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "edb_fold(f.value) = edb_fold(?)")
	assert.Equal(t, []any{int64(1), "name", "string", "Valve"}, params)

	// folding is meaningless for non-strings and compiles to plain equality
	sql, _, err = compiler.Compile(queryir.Head{
		AsOf:   1,
		Filter: queryir.Equals{Field: "n", Value: record.Int(3), Fold: true},
	})
	require.NoError(t, err)
	assert.NotContains(t, sql, FoldFunc)
}

func TestCompile_LikeAndKeyPrefix(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Head{
		AsOf: 7,
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Like{Field: "code", Pattern: "AB%", Fold: true},
			queryir.KeyPrefix{Prefix: "owner", Value: record.Ref("team/a")},
		}},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "edb_like(?, f.value, ?)")
	assert.Contains(t, sql, "substr(f.key, 1, ?) = ?")
	assert.Equal(t, []any{
		int64(7),
		"code", "string", "AB%", true,
		5, "owner", "ref", "team/a",
	}, params)
}

func TestCompile_Commits(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Commits{
		Committer: "alice",
		Context:   "plant",
		OID:       "pump/1",
		From:      10,
		To:        20,
		Fields:    queryir.Equals{Field: "x", Value: record.Int(1)},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "SELECT "+CommitColumns+" FROM commits c WHERE")
	assert.Contains(t, sql, "c.committer = ?")
	assert.Contains(t, sql, "c.context = ?")
	assert.Contains(t, sql, "FROM commit_entries e")
	assert.Contains(t, sql, "c.ts >= ? AND c.ts <= ?")
	assert.Contains(t, sql, "s.ts = c.ts")
	assert.Contains(t, sql, "ORDER BY c.ts ASC")
	assert.Equal(t, []any{"alice", "plant", "pump/1", int64(10), int64(20), "x", "int", "1"}, params)
}

func TestCompile_CommitsLast(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Commits{Last: true})
	require.NoError(t, err)
	assert.Equal(t, "SELECT "+CommitColumns+" FROM commits c ORDER BY c.ts DESC LIMIT 1", sql)
	assert.Empty(t, params)
}

func TestCompile_Errors(t *testing.T) {
	compiler := NewSQLCompiler()

	_, _, err := compiler.Compile(nil)
	assert.Error(t, err)

	_, _, err = compiler.Compile(queryir.Head{AsOf: 0})
	assert.ErrorIs(t, err, queryir.ErrInvalidQuery)

	_, _, err = compiler.Compile(queryir.Commits{From: 5, To: 1})
	assert.ErrorIs(t, err, queryir.ErrInvalidQuery)
}
