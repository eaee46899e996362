package edb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/edb/internal/metrics"
	"github.com/roach88/edb/internal/record"
)

// maxReplacements bounds how many times error hooks may substitute a
// commit within one Apply call.
const maxReplacements = 3

// Apply validates c and writes it atomically, returning its timestamp.
//
// Order:
//  1. Reject a commit that was applied before (AlreadyCommitted)
//  2. Run begin hooks
//  3. In one write transaction: check the parent revision (when enabled),
//     run conflict detection, run pre-commit hooks, assign the timestamp,
//     write snapshots and tombstones, then the commit metadata
//  4. Mark c committed and run post-commit hooks
//
// On a validation failure or a persistence failure nothing is written, c
// stays a draft, and error hooks may supply a replacement commit, which is
// then applied in its place.
func (db *Database) Apply(ctx context.Context, c *Commit) (int64, error) {
	return db.apply(ctx, c, 0)
}

func (db *Database) apply(ctx context.Context, c *Commit, depth int) (int64, error) {
	ctx, span := db.tracer.Start(ctx, "edb.Database.Apply",
		trace.WithAttributes(
			attribute.String("edb.committer", c.Committer),
			attribute.String("edb.context", c.Context),
			attribute.Int("edb.replacement_depth", depth),
		),
	)
	defer span.End()
	start := time.Now()

	c.applyMu.Lock()
	meta, res, err, recoverable := db.applyLocked(ctx, c)
	c.applyMu.Unlock()

	if err == nil {
		db.metrics.ObserveCommit(metrics.OutcomeCommitted, time.Since(start), res.Snapshots())
		span.SetAttributes(
			attribute.Int64("edb.timestamp", meta.Timestamp),
			attribute.String("edb.revision", meta.Revision),
		)
		db.logger.Info("commit applied",
			"timestamp", meta.Timestamp,
			"revision", meta.Revision,
			"committer", meta.Committer,
			"context", meta.Context,
			"inserts", len(res.Inserts),
			"updates", len(res.Updates),
			"deletes", len(res.Deletes),
			"unchanged", len(res.Unchanged),
		)
		for _, h := range db.hooks.post {
			h.OnPostCommit(ctx, c)
		}
		return meta.Timestamp, nil
	}

	outcome := metrics.OutcomeFailed
	if IsValidationError(err) {
		outcome = metrics.OutcomeRejected
		db.logger.Debug("commit rejected", "committer", c.Committer, "context", c.Context, "error", err)
	} else {
		db.logger.Error("commit failed", "committer", c.Committer, "context", c.Context, "error", err)
	}
	db.metrics.ObserveCommit(outcome, time.Since(start), 0)
	db.metrics.ObserveFailure(string(CodeOf(err)))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if recoverable && depth < maxReplacements {
		for _, h := range db.hooks.err {
			if replacement := h.OnCommitError(ctx, c, err); replacement != nil {
				db.logger.Info("error hook replaced commit", "committer", replacement.Committer, "context", replacement.Context)
				return db.apply(ctx, replacement, depth+1)
			}
		}
	}
	return 0, err
}

// applyLocked runs the commit with c.applyMu held. recoverable reports
// whether error hooks should see the failure.
func (db *Database) applyLocked(ctx context.Context, c *Commit) (record.CommitMeta, Resolution, error, bool) {
	if c.IsCommitted() {
		return record.CommitMeta{}, Resolution{}, &Error{
			Code:      CodeAlreadyCommitted,
			Timestamp: c.Timestamp(),
			Message:   "commit was applied before",
		}, false
	}

	for _, h := range db.hooks.begin {
		if err := h.OnBeginCommit(ctx, c); err != nil {
			return record.CommitMeta{}, Resolution{}, fmt.Errorf("begin commit hook: %w", err), false
		}
	}

	c.mu.Lock()
	entries, deletes := c.snapshot()
	draft := record.CommitMeta{
		Parent:    c.Parent,
		Committer: c.Committer,
		Context:   c.Context,
		Comment:   c.Comment,
	}
	c.mu.Unlock()

	tx, err := db.store.Begin(ctx)
	if err != nil {
		return record.CommitMeta{}, Resolution{}, newPersistenceError(0, err, nil), true
	}

	meta, res, err := db.write(ctx, tx, c, draft, entries, deletes)
	if err != nil {
		rbErr := tx.Rollback()
		if IsValidationError(err) {
			if rbErr != nil {
				err = errors.Join(err, &Error{Code: CodeRollbackFailure, Message: "rollback failed", Err: rbErr})
			}
			return record.CommitMeta{}, Resolution{}, err, true
		}
		return record.CommitMeta{}, Resolution{}, newPersistenceError(meta.Timestamp, err, rbErr), true
	}

	if err := tx.Commit(); err != nil {
		return record.CommitMeta{}, Resolution{}, newPersistenceError(meta.Timestamp, err, tx.Rollback()), true
	}

	c.mu.Lock()
	c.markCommitted(meta, res)
	c.mu.Unlock()
	db.commits.Add(meta.Timestamp, meta)

	return meta, res, nil, false
}

// write performs the transactional part of Apply. Any error leaves the
// transaction to be rolled back by the caller.
func (db *Database) write(ctx context.Context, tx Tx, c *Commit, draft record.CommitMeta, entries []entry, deletes []string) (record.CommitMeta, Resolution, error) {
	head, err := headRevision(ctx, tx)
	if err != nil {
		return record.CommitMeta{}, Resolution{}, fmt.Errorf("read head revision: %w", err)
	}
	if db.checkRevisions && draft.Parent != "" && draft.Parent != head {
		return record.CommitMeta{}, Resolution{}, &Error{
			Code:    CodeRevisionMismatch,
			Message: fmt.Sprintf("commit based on revision %s but head is %s", draft.Parent, head),
		}
	}

	res, err := db.detector.resolve(ctx, tx, entries, deletes)
	if err != nil {
		return record.CommitMeta{}, Resolution{}, err
	}

	for _, h := range db.hooks.pre {
		if err := h.OnPreCommit(ctx, tx, c, res); err != nil {
			if CodeOf(err) == "" {
				err = &Error{Code: CodeRejected, Message: "pre-commit hook", Err: err}
			}
			return record.CommitMeta{}, Resolution{}, err
		}
	}

	last, err := tx.LastTimestamp(ctx)
	if err != nil {
		return record.CommitMeta{}, Resolution{}, fmt.Errorf("read last timestamp: %w", err)
	}
	db.clock.Observe(last)
	ts := db.clock.Next()

	meta := draft
	meta.Timestamp = ts
	meta.Revision = db.revisions.Generate()
	meta.Parent = head

	for i := range res.Inserts {
		res.Inserts[i].Timestamp = ts
		meta.Inserted = append(meta.Inserted, res.Inserts[i].OID)
	}
	for i := range res.Updates {
		res.Updates[i].Timestamp = ts
		meta.Updated = append(meta.Updated, res.Updates[i].OID)
	}
	meta.Deleted = append(meta.Deleted, res.Deletes...)
	meta = meta.Normalize()

	for _, r := range res.Inserts {
		if err := tx.PutSnapshot(ctx, r); err != nil {
			return meta, Resolution{}, err
		}
	}
	for _, r := range res.Updates {
		if err := tx.PutSnapshot(ctx, r); err != nil {
			return meta, Resolution{}, err
		}
	}
	for _, oid := range res.Deletes {
		if err := tx.PutSnapshot(ctx, record.Tombstone(oid, ts)); err != nil {
			return meta, Resolution{}, err
		}
	}
	if err := tx.PutCommit(ctx, meta); err != nil {
		return meta, Resolution{}, err
	}

	return meta, res, nil
}
