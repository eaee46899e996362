package queryir

import (
	"math"

	"github.com/roach88/edb/internal/record"
)

// Latest is the AsOf/To bound meaning "no upper bound".
const Latest int64 = math.MaxInt64

// Query represents an abstract read against a record store.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
//
// Query types:
//   - Head: the live snapshot of every object at a point in time
//   - Commits: commit metadata matching committer, context, range, and payload
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a condition on a snapshot's payload fields.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: field = value
//   - Like: field text LIKE pattern
//   - KeyPrefix: some field whose key starts with a prefix = value
//   - And: all predicates must be true
//
// There is no OR. Callers that need a union run two queries.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Head selects, for every OID, the latest snapshot with timestamp <= AsOf,
// keeps it only if it is not a tombstone, and then applies Filter.
//
// Semantics:
//
//	SELECT latest snapshot per oid WHERE ts <= AsOf AND NOT deleted AND <filter>
//	ORDER BY oid
type Head struct {
	AsOf   int64     // Inclusive upper bound; Latest for the current head
	Filter Predicate // nil = every live object
}

func (Head) queryNode() {}

// Commits selects commit metadata, ordered by timestamp.
//
// Empty string fields and zero bounds do not constrain. Fields constrains the
// payload of at least one snapshot the commit wrote.
//
// Example:
//
//	Commits{Committer: "alice", To: 1700000000000, Last: true}
//
// is "alice's newest commit at or before t".
type Commits struct {
	Committer string
	Context   string
	Revision  string
	OID       string // Commit wrote a snapshot (or tombstone) for this OID
	From      int64  // Inclusive lower bound on timestamp (0 = none)
	To        int64  // Inclusive upper bound on timestamp (0 = none)
	Fields    Predicate
	Last      bool // Only the newest matching commit
}

func (Commits) queryNode() {}

// Equals represents a field-equals-literal predicate.
//
// Semantics:
//
//	fields[Field] = Value
//
// Both the type and the value must match: Int(1) never equals Float(1).
// With Fold set, String values compare under Unicode case folding.
//
// Example:
//
//	Equals{Field: "status", Value: record.String("active")}
type Equals struct {
	Field string
	Value record.Value
	Fold  bool
}

func (Equals) predicateNode() {}

// Like matches the canonical text of a field against a LIKE pattern.
//
// Semantics:
//
//	text(fields[Field]) LIKE Pattern ESCAPE '\'
//
// '%' matches any run of characters, '_' exactly one, '\' escapes the next
// character. Matching is case sensitive unless Fold is set. Only String
// fields match.
type Like struct {
	Field   string
	Pattern string
	Fold    bool
}

func (Like) predicateNode() {}

// KeyPrefix matches when any field whose key starts with Prefix equals Value.
// It finds references held under varying keys, e.g. every "owner*" field
// that is Ref("team/a").
type KeyPrefix struct {
	Prefix string
	Value  record.Value
	Fold   bool
}

func (KeyPrefix) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
