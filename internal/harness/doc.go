// Package harness runs commit scenarios against a real database.
//
// # Scenario Format
//
// Scenarios are YAML files. Each step is a changeset (see package
// changeset) applied in order, optionally with the error it must fail with:
//
//	name: stale_update_conflicts
//	description: "A stale update that changes a field is rejected"
//	backend: sqlite        # or pebble; default sqlite
//	steps:
//	  - commit:
//	      committer: alice
//	      context: plant
//	      insert: [{oid: A, fields: {x: 1}}]
//	  - commit:
//	      committer: bob
//	      context: plant
//	      update: [{oid: A, version: 1, fields: {x: 3}}]
//	    expect:
//	      error: CONFLICT
//	      oid: A
//	      field: x
//	assertions:
//	  - type: object
//	    oid: A
//	    version: 1
//	    fields: {x: 1}
//
// # Assertion Types
//
//   - object: the object is active; version and fields (subset) match
//   - absent: GetObject fails with NOT_FOUND
//   - head: the head holds exactly the listed OIDs
//   - history: the object's snapshots carry the listed versions, 0 for a
//     tombstone
//   - resurrected: GetResurrectedOIDs returns exactly the listed OIDs
//   - commit_count: the number of commits
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory store, a testutil.DeterministicClock and
// sequential revisions, so the step timestamps, revisions and final head are
// identical across runs and backends. RunWithGolden compares them with a
// golden file under testdata/golden.
package harness
