package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/vfs"

	"github.com/roach88/edb/internal/changeset"
	"github.com/roach88/edb/internal/config"
	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/kvstore"
	"github.com/roach88/edb/internal/store"
	"github.com/roach88/edb/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and revisions.
type Harness struct {
	db *edb.Database
}

// Run executes a scenario on the backend it names and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Open a fresh store and database
// 2. Apply every step, checking its expectation
// 3. Evaluate assertions and the store's integrity
// 4. Return result with pass/fail, step outcomes and final head
//
// The returned error reports a scenario that could not run (a malformed
// changeset or a store failure), not a failed expectation.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return RunOn(ctx, scenario, scenario.Backend)
}

// RunOn executes a scenario on the given backend, ignoring the scenario's.
func RunOn(ctx context.Context, scenario *Scenario, backend string) (*Result, error) {
	st, err := openStore(backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	clock := testutil.NewDeterministicClock()
	db, err := edb.New(ctx, st,
		edb.WithNow(clock.Next),
		edb.WithRevisionGenerator(testutil.NewSequentialRevisions("")),
		edb.WithRevisionCheck(scenario.RevisionCheck),
		edb.WithLogger(testutil.DiscardLogger()),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	h := &Harness{db: db}
	result := NewResult()

	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(ctx, db, scenario.Assertions) {
		result.AddError(msg)
	}

	found, err := db.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify store: %w", err)
	}
	for _, inc := range found {
		result.AddError("store inconsistency: " + inc.String())
	}

	head, err := db.GetHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read head: %w", err)
	}
	result.Head = head
	return result, nil
}

func openStore(backend string) (edb.Store, error) {
	switch backend {
	case "", config.BackendSQLite:
		return store.Open(":memory:")
	case config.BackendPebble:
		return kvstore.Open("edb", kvstore.WithFS(vfs.NewMem()))
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// executeSteps applies every step and checks its expectation.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		cs, err := changeset.FromMap(step.Commit)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}

		sr := StepResult{Step: i}
		var ts int64
		c, err := cs.Commit()
		if err == nil {
			ts, err = h.db.Apply(ctx, c)
		}

		if err != nil {
			sr.Error = string(edb.CodeOf(err))
			if sr.Error == "" {
				return fmt.Errorf("step %d: %w", i, err)
			}
		} else {
			sr.Timestamp = ts
			sr.Revision = c.Revision()
		}
		result.Steps = append(result.Steps, sr)

		if msg := checkExpect(i, step.Expect, err); msg != "" {
			result.AddError(msg)
		}
	}
	return nil
}

// checkExpect compares a step's outcome with its expect clause.
func checkExpect(i int, expect *ExpectClause, err error) string {
	if expect == nil {
		if err != nil {
			return fmt.Sprintf("step %d: expected success, got %v", i, err)
		}
		return ""
	}
	if err == nil {
		return fmt.Sprintf("step %d: expected %s, got success", i, expect.Error)
	}

	var e *edb.Error
	if !errors.As(err, &e) || string(e.Code) != expect.Error {
		return fmt.Sprintf("step %d: expected %s, got %v", i, expect.Error, err)
	}
	if expect.OID != "" && e.OID != expect.OID {
		return fmt.Sprintf("step %d: expected %s on oid %q, got oid %q", i, expect.Error, expect.OID, e.OID)
	}
	if expect.Field != "" && e.Field != expect.Field {
		return fmt.Sprintf("step %d: expected %s on field %q, got field %q", i, expect.Error, expect.Field, e.Field)
	}
	return ""
}
