package edb

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/edb/internal/record"
)

// Diff holds the two commits bounding a time range and the head at each of
// them. Deciding what changed between HeadA and HeadB is left to the
// caller; Added, Removed and Changed cover the common OID-level view.
type Diff struct {
	CommitA *Commit
	CommitB *Commit
	HeadA   []record.Record
	HeadB   []record.Record
}

// GetDiff returns the commits at exactly t1 and t2 and the heads as of each.
// GetCommit's failures (NoCommitAtTimestamp, AmbiguousCommit) are returned
// unchanged.
func (db *Database) GetDiff(ctx context.Context, t1, t2 int64) (*Diff, error) {
	ctx, span := db.tracer.Start(ctx, "edb.Database.GetDiff",
		trace.WithAttributes(attribute.Int64("edb.t1", t1), attribute.Int64("edb.t2", t2)),
	)
	defer span.End()

	d, err := db.diff(ctx, t1, t2)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return d, nil
}

func (db *Database) diff(ctx context.Context, t1, t2 int64) (*Diff, error) {
	a, err := db.GetCommit(ctx, t1)
	if err != nil {
		return nil, err
	}
	b, err := db.GetCommit(ctx, t2)
	if err != nil {
		return nil, err
	}
	headA, err := db.GetHeadAt(ctx, t1)
	if err != nil {
		return nil, err
	}
	headB, err := db.GetHeadAt(ctx, t2)
	if err != nil {
		return nil, err
	}
	return &Diff{CommitA: a, CommitB: b, HeadA: headA, HeadB: headB}, nil
}

// Added returns OIDs in HeadB but not HeadA, sorted.
func (d *Diff) Added() []string {
	a := byOID(d.HeadA)
	out := []string{}
	for _, r := range d.HeadB {
		if _, ok := a[r.OID]; !ok {
			out = append(out, r.OID)
		}
	}
	return out
}

// Removed returns OIDs in HeadA but not HeadB, sorted.
func (d *Diff) Removed() []string {
	b := byOID(d.HeadB)
	out := []string{}
	for _, r := range d.HeadA {
		if _, ok := b[r.OID]; !ok {
			out = append(out, r.OID)
		}
	}
	return out
}

// Changed returns OIDs present in both heads at different snapshots, sorted.
func (d *Diff) Changed() []string {
	a := byOID(d.HeadA)
	out := []string{}
	for _, r := range d.HeadB {
		if prev, ok := a[r.OID]; ok && prev.Timestamp != r.Timestamp {
			out = append(out, r.OID)
		}
	}
	return out
}

// Heads are ordered by OID, so walking one keeps the output sorted.
func byOID(head []record.Record) map[string]record.Record {
	m := make(map[string]record.Record, len(head))
	for _, r := range head {
		m[r.OID] = r
	}
	return m
}
