package edb

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// Inconsistency kinds reported by Verify.
const (
	// A snapshot exists with no commit listing its OID at its timestamp.
	KindOrphanSnapshot = "orphan_snapshot"
	// A commit lists an OID with no snapshot at the commit's timestamp.
	KindMissingSnapshot = "missing_snapshot"
	// A commit lists an OID as deleted but the snapshot is live, or the
	// other way round.
	KindOpMismatch = "op_mismatch"
	// Live versions of an OID do not increase by one from 1 after each
	// insert.
	KindVersionGap = "version_gap"
)

// Inconsistency is one integrity problem in a store.
type Inconsistency struct {
	Kind      string `json:"kind"`
	OID       string `json:"oid"`
	Timestamp int64  `json:"timestamp"`
	Detail    string `json:"detail"`
}

func (i Inconsistency) String() string {
	return fmt.Sprintf("%s %s@%d: %s", i.Kind, i.OID, i.Timestamp, i.Detail)
}

// Verifier is implemented by stores that can check their own integrity
// more cheaply than a walk through the Reader interface.
type Verifier interface {
	Verify(ctx context.Context) ([]Inconsistency, error)
}

// Verify checks that snapshots and commits agree. It returns the problems
// found, sorted by timestamp then OID; an empty slice means the store is
// consistent.
func (db *Database) Verify(ctx context.Context) ([]Inconsistency, error) {
	defer db.metrics.ReadTimer("verify").ObserveDuration()

	var (
		found []Inconsistency
		err   error
	)
	if v, ok := db.store.(Verifier); ok {
		found, err = v.Verify(ctx)
	} else {
		found, err = walkVerify(ctx, db.store)
	}
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	slices.SortStableFunc(found, func(a, b Inconsistency) int {
		return cmp.Or(cmp.Compare(a.Timestamp, b.Timestamp), cmp.Compare(a.OID, b.OID))
	})
	for _, inc := range found {
		db.logger.Error("store inconsistency", "kind", inc.Kind, "oid", inc.OID, "timestamp", inc.Timestamp, "detail", inc.Detail)
	}
	return found, nil
}

// walkVerify checks every commit through the Reader interface.
func walkVerify(ctx context.Context, r Reader) ([]Inconsistency, error) {
	metas, err := r.Commits(ctx, queryir.Commits{})
	if err != nil {
		return nil, err
	}

	found := []Inconsistency{}
	touched := map[string]bool{}
	var oids []string

	for _, m := range metas {
		snaps, err := r.SnapshotsAt(ctx, m.Timestamp)
		if err != nil {
			return nil, err
		}
		found = append(found, CheckCommit(m, snaps)...)
		for _, oid := range m.OIDs() {
			if !touched[oid] {
				touched[oid] = true
				oids = append(oids, oid)
			}
		}
	}

	for _, oid := range oids {
		hist, err := r.History(ctx, oid, 0, queryir.Latest)
		if err != nil {
			return nil, err
		}
		found = append(found, CheckVersions(oid, hist)...)
	}
	return found, nil
}

// CheckCommit compares a commit's entry lists with the snapshots written at
// its timestamp (ordered by OID).
func CheckCommit(m record.CommitMeta, snaps []record.Record) []Inconsistency {
	found := []Inconsistency{}
	byOID := make(map[string]record.Record, len(snaps))
	for _, s := range snaps {
		byOID[s.OID] = s
	}

	check := func(oids []string, wantDeleted bool) {
		for _, oid := range oids {
			s, ok := byOID[oid]
			if !ok {
				found = append(found, Inconsistency{Kind: KindMissingSnapshot, OID: oid, Timestamp: m.Timestamp, Detail: "commit lists object without a snapshot"})
				continue
			}
			if s.Deleted != wantDeleted {
				found = append(found, Inconsistency{Kind: KindOpMismatch, OID: oid, Timestamp: m.Timestamp, Detail: fmt.Sprintf("snapshot deleted=%t", s.Deleted)})
			}
		}
	}
	check(m.Inserted, false)
	check(m.Updated, false)
	check(m.Deleted, true)

	for _, s := range snaps {
		if !m.Touches(s.OID) {
			found = append(found, Inconsistency{Kind: KindOrphanSnapshot, OID: s.OID, Timestamp: m.Timestamp, Detail: "snapshot not listed by its commit"})
		}
	}
	return found
}

// CheckVersions checks one object's history, oldest first: live versions
// start at 1 after a tombstone (or at the beginning) and then increase by
// one.
func CheckVersions(oid string, hist []record.Record) []Inconsistency {
	found := []Inconsistency{}
	var want int64 = 1
	for _, s := range hist {
		if s.Deleted {
			want = 1
			continue
		}
		if s.Version != want {
			found = append(found, Inconsistency{
				Kind:      KindVersionGap,
				OID:       oid,
				Timestamp: s.Timestamp,
				Detail:    fmt.Sprintf("version %d, expected %d", s.Version, want),
			})
		}
		want = s.Version + 1
	}
	return found
}
