package edb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// Reserved GetCommits parameters. Every other key constrains the payload of
// a record the commit wrote.
const (
	ParamCommitter = "committer"
	ParamContext   = "context"
	ParamRevision  = "revision"
	ParamOID       = "oid"
	ParamTimestamp = "timestamp"
)

// GetObject returns the latest snapshot of oid. A deleted or unknown object
// is NotFound; use GetObjectAt or GetHistory to read tombstones.
func (db *Database) GetObject(ctx context.Context, oid string) (record.Record, error) {
	defer db.metrics.ReadTimer("get_object").ObserveDuration()

	r, ok, err := db.store.Snapshot(ctx, oid, queryir.Latest)
	if err != nil {
		return record.Record{}, fmt.Errorf("get object %s: %w", oid, err)
	}
	if !ok || !r.Active() {
		return record.Record{}, NewNotFoundError(oid)
	}
	return r, nil
}

// GetObjectAt returns the newest snapshot of oid with timestamp <= t. The
// snapshot may be a tombstone. NotFound when the object did not exist yet.
func (db *Database) GetObjectAt(ctx context.Context, oid string, t int64) (record.Record, error) {
	defer db.metrics.ReadTimer("get_object_at").ObserveDuration()

	r, ok, err := db.store.Snapshot(ctx, oid, t)
	if err != nil {
		return record.Record{}, fmt.Errorf("get object %s at %d: %w", oid, t, err)
	}
	if !ok {
		return record.Record{}, &Error{Code: CodeNotFound, OID: oid, Timestamp: t, Message: "no snapshot at or before timestamp"}
	}
	return r, nil
}

// GetObjects returns the active latest snapshots of oids in request order.
// Unknown and deleted objects are skipped.
func (db *Database) GetObjects(ctx context.Context, oids []string) ([]record.Record, error) {
	defer db.metrics.ReadTimer("get_objects").ObserveDuration()

	out := []record.Record{}
	for _, oid := range oids {
		r, ok, err := db.store.Snapshot(ctx, oid, queryir.Latest)
		if err != nil {
			return nil, fmt.Errorf("get objects: %w", err)
		}
		if ok && r.Active() {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetHistory returns every snapshot of oid, tombstones included, oldest
// first.
func (db *Database) GetHistory(ctx context.Context, oid string) ([]record.Record, error) {
	return db.GetHistoryRange(ctx, oid, 0, queryir.Latest)
}

// GetHistoryRange returns the snapshots of oid with from <= timestamp <= to,
// oldest first.
func (db *Database) GetHistoryRange(ctx context.Context, oid string, from, to int64) ([]record.Record, error) {
	defer db.metrics.ReadTimer("get_history").ObserveDuration()

	hist, err := db.store.History(ctx, oid, from, to)
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", oid, err)
	}
	return hist, nil
}

// GetHead returns every active object at its latest snapshot, by OID.
func (db *Database) GetHead(ctx context.Context) ([]record.Record, error) {
	return db.GetHeadAt(ctx, queryir.Latest)
}

// GetHeadAt returns the head as of t. Nothing exists before the first
// commit, so t <= 0 gives an empty head.
func (db *Database) GetHeadAt(ctx context.Context, t int64) ([]record.Record, error) {
	return db.head(ctx, "get_head", t, nil)
}

func (db *Database) head(ctx context.Context, op string, t int64, filter queryir.Predicate) ([]record.Record, error) {
	defer db.metrics.ReadTimer(op).ObserveDuration()

	if t <= 0 {
		return []record.Record{}, nil
	}
	recs, err := db.store.Head(ctx, queryir.Head{AsOf: t, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("get head at %d: %w", t, err)
	}
	return recs, nil
}

// QueryOption adjusts a Query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	asOf      int64
	fold      bool
	wildcards bool
}

// AsOf queries the head at t instead of the current head.
func AsOf(t int64) QueryOption {
	return func(o *queryOptions) { o.asOf = t }
}

// CaseInsensitive compares string values under Unicode case folding.
func CaseInsensitive() QueryOption {
	return func(o *queryOptions) { o.fold = true }
}

// Wildcards treats string values containing % or _ as LIKE patterns.
// A backslash escapes a literal % or _.
func Wildcards() QueryOption {
	return func(o *queryOptions) { o.wildcards = true }
}

// Query returns the head objects whose fields match every constraint.
//
// A key ending in "*" matches any field whose key starts with the rest of
// it, e.g. {"owner*": Ref("team/a")} finds objects holding that reference
// under owner, owner2, ownerBackup and so on.
func (db *Database) Query(ctx context.Context, fields map[string]record.Value, opts ...QueryOption) ([]record.Record, error) {
	o := queryOptions{asOf: queryir.Latest}
	for _, opt := range opts {
		opt(&o)
	}

	pred, err := fieldPredicate(fields, o)
	if err != nil {
		return nil, err
	}
	return db.head(ctx, "query", o.asOf, pred)
}

// fieldPredicate turns field constraints into a predicate, keys in canonical
// order. Empty constraints give nil (match everything).
func fieldPredicate(fields map[string]record.Value, o queryOptions) (queryir.Predicate, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	preds := make([]queryir.Predicate, 0, len(fields))
	for _, key := range record.Fields(fields).SortedKeys() {
		v := fields[key]
		var p queryir.Predicate
		switch {
		case strings.HasSuffix(key, "*"):
			p = queryir.KeyPrefix{Prefix: strings.TrimSuffix(key, "*"), Value: v, Fold: o.fold}
		case o.wildcards && isPattern(v):
			p = queryir.Like{Field: key, Pattern: string(v.(record.String)), Fold: o.fold}
		default:
			p = queryir.Equals{Field: key, Value: v, Fold: o.fold}
		}
		preds = append(preds, p)
	}

	var pred queryir.Predicate = queryir.And{Predicates: preds}
	if len(preds) == 1 {
		pred = preds[0]
	}
	if err := queryir.ValidatePredicate(pred); err != nil {
		return nil, newInvalidQueryError("%v", err)
	}
	return pred, nil
}

func isPattern(v record.Value) bool {
	s, ok := v.(record.String)
	return ok && queryir.HasWildcard(string(s))
}

// GetCommits returns the commits matching params, oldest first.
//
// Parameters committer, context, revision and oid (the commit wrote a
// snapshot of that object) take String values; timestamp takes an Int and
// keeps commits at or before it. Any other key must match a field of a
// record the commit wrote.
func (db *Database) GetCommits(ctx context.Context, params map[string]record.Value) ([]*Commit, error) {
	defer db.metrics.ReadTimer("get_commits").ObserveDuration()

	q, err := commitQuery(params)
	if err != nil {
		return nil, err
	}
	metas, err := db.store.Commits(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get commits: %w", err)
	}
	return db.hydrateAll(ctx, metas)
}

// GetLastCommit returns the newest commit matching params, as GetCommits.
// NotFound when nothing matches.
func (db *Database) GetLastCommit(ctx context.Context, params map[string]record.Value) (*Commit, error) {
	defer db.metrics.ReadTimer("get_last_commit").ObserveDuration()

	meta, err := db.lastCommit(ctx, params)
	if err != nil {
		return nil, err
	}
	return db.hydrate(ctx, meta)
}

func (db *Database) lastCommit(ctx context.Context, params map[string]record.Value) (record.CommitMeta, error) {
	q, err := commitQuery(params)
	if err != nil {
		return record.CommitMeta{}, err
	}
	q.Last = true
	metas, err := db.store.Commits(ctx, q)
	if err != nil {
		return record.CommitMeta{}, fmt.Errorf("get last commit: %w", err)
	}
	if len(metas) == 0 {
		return record.CommitMeta{}, &Error{Code: CodeNotFound, Message: "no commit matches"}
	}
	return metas[0], nil
}

// commitQuery splits GetCommits parameters into commit metadata constraints
// and a payload predicate.
func commitQuery(params map[string]record.Value) (queryir.Commits, error) {
	q := queryir.Commits{}
	payload := map[string]record.Value{}

	for key, v := range params {
		switch key {
		case ParamCommitter, ParamContext, ParamRevision, ParamOID:
			s, ok := v.(record.String)
			if !ok {
				return queryir.Commits{}, newInvalidQueryError("parameter %s must be a string, got %T", key, v)
			}
			switch key {
			case ParamCommitter:
				q.Committer = string(s)
			case ParamContext:
				q.Context = string(s)
			case ParamRevision:
				q.Revision = string(s)
			case ParamOID:
				q.OID = string(s)
			}
		case ParamTimestamp:
			t, ok := v.(record.Int)
			if !ok || t <= 0 {
				return queryir.Commits{}, newInvalidQueryError("parameter timestamp must be a positive int, got %v", v)
			}
			q.To = int64(t)
		default:
			payload[key] = v
		}
	}

	pred, err := fieldPredicate(payload, queryOptions{})
	if err != nil {
		return queryir.Commits{}, err
	}
	q.Fields = pred

	if err := queryir.Validate(q); err != nil {
		return queryir.Commits{}, newInvalidQueryError("%v", err)
	}
	return q, nil
}

// GetCommit returns the commit with exactly timestamp t.
//
// Fails with NoCommitAtTimestamp when there is none and AmbiguousCommit when
// there are several. The latter means the store is corrupt.
func (db *Database) GetCommit(ctx context.Context, t int64) (*Commit, error) {
	defer db.metrics.ReadTimer("get_commit").ObserveDuration()

	meta, err := db.commitMeta(ctx, t)
	if err != nil {
		return nil, err
	}
	return db.hydrate(ctx, meta)
}

// commitMeta reads commit metadata through the cache.
func (db *Database) commitMeta(ctx context.Context, t int64) (record.CommitMeta, error) {
	if t <= 0 {
		return record.CommitMeta{}, NewNoCommitError(t)
	}
	if meta, ok := db.commits.Get(t); ok {
		db.metrics.CacheLookup(true)
		return meta, nil
	}
	db.metrics.CacheLookup(false)

	metas, err := db.store.Commits(ctx, queryir.Commits{From: t, To: t})
	if err != nil {
		return record.CommitMeta{}, fmt.Errorf("get commit %d: %w", t, err)
	}
	switch len(metas) {
	case 0:
		return record.CommitMeta{}, NewNoCommitError(t)
	case 1:
		db.commits.Add(t, metas[0])
		return metas[0], nil
	default:
		err := NewAmbiguousCommitError(t, len(metas))
		db.logger.Error("store corruption", "error", err)
		return record.CommitMeta{}, err
	}
}

// GetCommitByRevision returns the commit with the given revision.
func (db *Database) GetCommitByRevision(ctx context.Context, revision string) (*Commit, error) {
	defer db.metrics.ReadTimer("get_commit_by_revision").ObserveDuration()

	metas, err := db.store.Commits(ctx, queryir.Commits{Revision: revision})
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", revision, err)
	}
	if len(metas) == 0 {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no commit with revision %s", revision)}
	}
	return db.hydrate(ctx, metas[0])
}

// LastRevisionOfContext returns the revision of the newest commit in
// contextID, "" when the context has none.
func (db *Database) LastRevisionOfContext(ctx context.Context, contextID string) (string, error) {
	metas, err := db.store.Commits(ctx, queryir.Commits{Context: contextID, Last: true})
	if err != nil {
		return "", fmt.Errorf("last revision of %s: %w", contextID, err)
	}
	if len(metas) == 0 {
		return "", nil
	}
	return metas[0].Revision, nil
}

// CommitQuery selects commits by metadata. Zero fields do not constrain;
// From and To are inclusive.
type CommitQuery struct {
	Committer string
	Context   string
	From      int64
	To        int64
}

// CommitRevisions returns the metadata of matching commits, oldest first,
// without loading their records.
func (db *Database) CommitRevisions(ctx context.Context, cq CommitQuery) ([]record.CommitMeta, error) {
	defer db.metrics.ReadTimer("commit_revisions").ObserveDuration()

	q := queryir.Commits{Committer: cq.Committer, Context: cq.Context, From: cq.From, To: cq.To}
	if err := queryir.Validate(q); err != nil {
		return nil, newInvalidQueryError("%v", err)
	}
	metas, err := db.store.Commits(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("commit revisions: %w", err)
	}
	return metas, nil
}

// GetStateOfLastCommitMatching returns the head as of the newest commit
// matching params (see GetCommits). NotFound when nothing matches.
func (db *Database) GetStateOfLastCommitMatching(ctx context.Context, params map[string]record.Value) ([]record.Record, error) {
	meta, err := db.lastCommit(ctx, params)
	if err != nil {
		return nil, err
	}
	return db.GetHeadAt(ctx, meta.Timestamp)
}

// LogEntry pairs a snapshot with the commit that wrote it.
type LogEntry struct {
	Record record.Record
	Commit *Commit
}

// GetLog returns the history of oid with from <= timestamp <= to, each
// snapshot paired with its commit, oldest first.
//
// Every snapshot is written by exactly one commit. When the snapshots and
// the commits touching oid disagree the store is corrupt, and GetLog fails
// with InconsistentLog.
func (db *Database) GetLog(ctx context.Context, oid string, from, to int64) ([]LogEntry, error) {
	ctx, span := db.tracer.Start(ctx, "edb.Database.GetLog",
		trace.WithAttributes(
			attribute.String("edb.oid", oid),
			attribute.Int64("edb.from", from),
			attribute.Int64("edb.to", to),
		),
	)
	defer span.End()
	defer db.metrics.ReadTimer("get_log").ObserveDuration()

	entries, err := db.log(ctx, oid, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrInconsistentLog) {
			db.logger.Error("store corruption", "oid", oid, "from", from, "to", to, "error", err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("edb.entries", len(entries)))
	return entries, nil
}

func (db *Database) log(ctx context.Context, oid string, from, to int64) ([]LogEntry, error) {
	if to <= 0 {
		to = queryir.Latest
	}
	q := queryir.Commits{OID: oid, From: from, To: to}
	if err := queryir.Validate(q); err != nil {
		return nil, newInvalidQueryError("%v", err)
	}

	hist, err := db.store.History(ctx, oid, from, to)
	if err != nil {
		return nil, fmt.Errorf("get log %s: %w", oid, err)
	}
	metas, err := db.store.Commits(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get log %s: %w", oid, err)
	}
	if len(hist) != len(metas) {
		return nil, NewInconsistentLogError(oid, len(hist), len(metas))
	}

	out := make([]LogEntry, 0, len(hist))
	for i, r := range hist {
		if metas[i].Timestamp != r.Timestamp {
			return nil, &Error{
				Code:      CodeInconsistentLog,
				OID:       oid,
				Timestamp: r.Timestamp,
				Message:   fmt.Sprintf("snapshot at %d paired with commit at %d", r.Timestamp, metas[i].Timestamp),
			}
		}
		c, err := db.hydrate(ctx, metas[i])
		if err != nil {
			return nil, err
		}
		out = append(out, LogEntry{Record: r, Commit: c})
	}
	return out, nil
}

// GetResurrectedOIDs returns the OIDs that were deleted and later inserted
// again, sorted.
func (db *Database) GetResurrectedOIDs(ctx context.Context) ([]string, error) {
	defer db.metrics.ReadTimer("get_resurrected").ObserveDuration()

	oids, err := db.store.ResurrectedOIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("get resurrected oids: %w", err)
	}
	return oids, nil
}

// hydrate loads the records a commit wrote.
func (db *Database) hydrate(ctx context.Context, meta record.CommitMeta) (*Commit, error) {
	snaps, err := db.store.SnapshotsAt(ctx, meta.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("load commit %d: %w", meta.Timestamp, err)
	}
	db.commits.Add(meta.Timestamp, meta)
	return loadedCommit(meta, snaps), nil
}

func (db *Database) hydrateAll(ctx context.Context, metas []record.CommitMeta) ([]*Commit, error) {
	out := make([]*Commit, 0, len(metas))
	for _, m := range metas {
		c, err := db.hydrate(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
