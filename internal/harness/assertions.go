package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against db and returns the
// failure messages.
func EvaluateAssertions(ctx context.Context, db *edb.Database, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, db, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, db *edb.Database, a Assertion) error {
	switch a.Type {
	case AssertObject:
		return assertObject(ctx, db, a)
	case AssertAbsent:
		return assertAbsent(ctx, db, a)
	case AssertHead:
		return assertHead(ctx, db, a)
	case AssertHistory:
		return assertHistory(ctx, db, a)
	case AssertResurrected:
		return assertResurrected(ctx, db, a)
	case AssertCommitCount:
		return assertCommitCount(ctx, db, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertObject checks that the object is active with the expected version
// and field values (subset match).
func assertObject(ctx context.Context, db *edb.Database, a Assertion) error {
	obj, err := db.GetObject(ctx, a.OID)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("active object %s", a.OID), Actual: err.Error()}
	}
	if a.Version != 0 && obj.Version != a.Version {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s at version %d", a.OID, a.Version),
			Actual:   fmt.Sprintf("version %d", obj.Version),
		}
	}

	want, err := record.FieldsFromAny(a.Fields)
	if err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	for _, key := range want.SortedKeys() {
		got, ok := obj.Fields[key]
		if !ok || !record.Equal(got, want[key]) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s.%s = %s", a.OID, key, describe(want[key], true)),
				Actual:   describe(got, ok),
			}
		}
	}
	return nil
}

func assertAbsent(ctx context.Context, db *edb.Database, a Assertion) error {
	obj, err := db.GetObject(ctx, a.OID)
	if err == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s not found", a.OID),
			Actual:   fmt.Sprintf("active at version %d", obj.Version),
		}
	}
	if !edb.IsNotFound(err) {
		return err
	}
	return nil
}

func assertHead(ctx context.Context, db *edb.Database, a Assertion) error {
	head, err := db.GetHead(ctx)
	if err != nil {
		return err
	}
	return compareOIDs(a.Type, a.OIDs, oidsOf(head))
}

// assertHistory compares the version sequence, 0 standing for a tombstone.
func assertHistory(ctx context.Context, db *edb.Database, a Assertion) error {
	hist, err := db.GetHistoryRange(ctx, a.OID, 0, queryir.Latest)
	if err != nil {
		return err
	}
	got := make([]int64, len(hist))
	for i, r := range hist {
		if !r.Deleted {
			got[i] = r.Version
		}
	}
	want := a.Versions
	if want == nil {
		want = []int64{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s versions %v", a.OID, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertResurrected(ctx context.Context, db *edb.Database, a Assertion) error {
	oids, err := db.GetResurrectedOIDs(ctx)
	if err != nil {
		return err
	}
	return compareOIDs(a.Type, a.OIDs, oids)
}

func assertCommitCount(ctx context.Context, db *edb.Database, a Assertion) error {
	metas, err := db.CommitRevisions(ctx, edb.CommitQuery{})
	if err != nil {
		return err
	}
	if len(metas) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d commits", a.Count),
			Actual:   fmt.Sprintf("%d commits", len(metas)),
		}
	}
	return nil
}

func compareOIDs(typ string, want, got []string) error {
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(want, got) {
		return &AssertionError{Type: typ, Expected: fmt.Sprintf("%v", want), Actual: fmt.Sprintf("%v", got)}
	}
	return nil
}

func oidsOf(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.OID
	}
	return out
}

func describe(v record.Value, ok bool) string {
	if !ok || v == nil {
		return "<missing>"
	}
	typ, text, err := record.Encode(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("%s(%s)", typ, text)
}
