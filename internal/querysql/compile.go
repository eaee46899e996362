package querysql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// SQL functions the store registers on every connection.
const (
	// FoldFunc is edb_fold(text): Unicode case folding (queryir.Fold).
	FoldFunc = "edb_fold"
	// LikeFunc is edb_like(pattern, text, fold): queryir.MatchLike.
	LikeFunc = "edb_like"
)

// SnapshotColumns is the column list every snapshot query selects, in scan order.
const SnapshotColumns = "s.oid, s.ts, s.version, s.deleted, s.fields"

// CommitColumns is the column list every commit query selects, in scan order.
const CommitColumns = "c.ts, c.revision, c.parent, c.committer, c.context, c.comment"

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// CRITICAL: ALL queries include ORDER BY for deterministic results.
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a QueryIR query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}

	switch query := q.(type) {
	case queryir.Head:
		return c.compileHead(query)
	case *queryir.Head:
		return c.compileHead(*query)
	case queryir.Commits:
		return c.compileCommits(query)
	case *queryir.Commits:
		return c.compileCommits(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileHead selects the newest snapshot per OID at or before AsOf,
// dropping tombstones, then filters on payload.
func (c *SQLCompiler) compileHead(q queryir.Head) (string, []any, error) {
	params := []any{q.AsOf}
	where := []string{
		"s.ts = (SELECT MAX(m.ts) FROM snapshots m WHERE m.oid = s.oid AND m.ts <= ?)",
		"s.deleted = 0",
	}

	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where = append(where, filterSQL)
		params = append(params, filterParams...)
	}

	sql := fmt.Sprintf("SELECT %s FROM snapshots s WHERE %s ORDER BY s.oid COLLATE BINARY ASC",
		SnapshotColumns,
		strings.Join(where, " AND "))
	return sql, params, nil
}

func (c *SQLCompiler) compileCommits(q queryir.Commits) (string, []any, error) {
	var where []string
	var params []any

	add := func(clause string, args ...any) {
		where = append(where, clause)
		params = append(params, args...)
	}

	if q.Committer != "" {
		add("c.committer = ?", q.Committer)
	}
	if q.Context != "" {
		add("c.context = ?", q.Context)
	}
	if q.Revision != "" {
		add("c.revision = ?", q.Revision)
	}
	if q.OID != "" {
		add("EXISTS (SELECT 1 FROM commit_entries e WHERE e.ts = c.ts AND e.oid = ?)", q.OID)
	}
	if q.From != 0 {
		add("c.ts >= ?", q.From)
	}
	if q.To != 0 {
		add("c.ts <= ?", q.To)
	}
	if q.Fields != nil {
		predSQL, predParams, err := c.compilePredicate(q.Fields)
		if err != nil {
			return "", nil, fmt.Errorf("compile fields: %w", err)
		}
		add("EXISTS (SELECT 1 FROM snapshots s WHERE s.ts = c.ts AND s.deleted = 0 AND "+predSQL+")", predParams...)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	order := " ORDER BY c.ts ASC"
	if q.Last {
		order = " ORDER BY c.ts DESC LIMIT 1"
	}

	return fmt.Sprintf("SELECT %s FROM commits c%s%s", CommitColumns, whereClause, order), params, nil
}

// compilePredicate compiles a predicate against the snapshot alias "s".
// Returns (sql, params, error).
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.Like:
		return c.compileLike(pred)
	case *queryir.Like:
		return c.compileLike(*pred)
	case queryir.KeyPrefix:
		return c.compileKeyPrefix(pred)
	case *queryir.KeyPrefix:
		return c.compileKeyPrefix(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// fieldExists wraps a condition on record_fields f for the snapshot s.
func fieldExists(cond string) string {
	return "EXISTS (SELECT 1 FROM record_fields f WHERE f.oid = s.oid AND f.ts = s.ts AND " + cond + ")"
}

// valueCondition compares f.type and f.value with a typed literal.
func valueCondition(v record.Value, fold bool) (string, []any, error) {
	typ, text, err := record.Encode(v)
	if err != nil {
		return "", nil, err
	}
	if fold && typ == record.TypeString {
		return fmt.Sprintf("f.type = ? AND %s(f.value) = %s(?)", FoldFunc, FoldFunc), []any{typ, text}, nil
	}
	return "f.type = ? AND f.value = ?", []any{typ, text}, nil
}

func (c *SQLCompiler) compileEquals(pred queryir.Equals) (string, []any, error) {
	cond, params, err := valueCondition(pred.Value, pred.Fold)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", pred.Field, err)
	}
	return fieldExists("f.key = ? AND " + cond), append([]any{pred.Field}, params...), nil
}

func (c *SQLCompiler) compileLike(pred queryir.Like) (string, []any, error) {
	cond := fmt.Sprintf("f.key = ? AND f.type = ? AND %s(?, f.value, ?)", LikeFunc)
	return fieldExists(cond), []any{pred.Field, record.TypeString, pred.Pattern, pred.Fold}, nil
}

func (c *SQLCompiler) compileKeyPrefix(pred queryir.KeyPrefix) (string, []any, error) {
	cond, params, err := valueCondition(pred.Value, pred.Fold)
	if err != nil {
		return "", nil, fmt.Errorf("prefix %q: %w", pred.Prefix, err)
	}
	// substr counts characters for TEXT, so pass the rune count
	prefixParams := []any{utf8.RuneCountInString(pred.Prefix), pred.Prefix}
	return fieldExists("substr(f.key, 1, ?) = ? AND " + cond), append(prefixParams, params...), nil
}

func (c *SQLCompiler) compileAnd(pred queryir.And) (string, []any, error) {
	if len(pred.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var parts []string
	var params []any
	for i, p := range pred.Predicates {
		sql, ps, err := c.compilePredicate(p)
		if err != nil {
			return "", nil, fmt.Errorf("and[%d]: %w", i, err)
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}

	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}
