package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/edb/internal/config"
	"github.com/roach88/edb/internal/edb"
)

// Scenario is a sequence of commits and the state they must leave behind.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the store: "sqlite" (default) or "pebble".
	Backend string `yaml:"backend,omitempty"`

	// RevisionCheck enables edb.WithRevisionCheck.
	RevisionCheck bool `yaml:"revision_check,omitempty"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step applies one changeset.
type Step struct {
	// Commit is a changeset in its generic form (see changeset.FromMap).
	Commit map[string]any `yaml:"commit"`

	// Expect names the failure the step must produce. If nil, the step must
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies an expected failure.
type ExpectClause struct {
	// Error is the edb.ErrorCode, e.g. "CONFLICT".
	Error string `yaml:"error"`

	// OID and Field, when set, must match the *edb.Error.
	OID   string `yaml:"oid,omitempty"`
	Field string `yaml:"field,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// OID is the object (object, absent, history).
	OID string `yaml:"oid,omitempty"`

	// Version is the expected version (object). Zero is not checked.
	Version int64 `yaml:"version,omitempty"`

	// Fields are expected payload values, subset match (object).
	Fields map[string]any `yaml:"fields,omitempty"`

	// OIDs is the expected OID list (head, resurrected).
	OIDs []string `yaml:"oids,omitempty"`

	// Versions is the expected version sequence (history).
	Versions []int64 `yaml:"versions,omitempty"`

	// Count is the expected number of commits (commit_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertObject      = "object"
	AssertAbsent      = "absent"
	AssertHead        = "head"
	AssertHistory     = "history"
	AssertResurrected = "resurrected"
	AssertCommitCount = "commit_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Backend {
	case "", config.BackendSQLite, config.BackendPebble:
	default:
		return fmt.Errorf("backend %q: must be one of %v", s.Backend, config.Backends)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Commit == nil {
			return fmt.Errorf("steps[%d]: commit is required", i)
		}
		if step.Expect != nil && step.Expect.Error == "" {
			return fmt.Errorf("steps[%d].expect: error is required", i)
		}
		if step.Expect != nil && !knownCode(step.Expect.Error) {
			return fmt.Errorf("steps[%d].expect: unknown error code %q", i, step.Expect.Error)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertObject, AssertAbsent, AssertHistory:
		if a.OID == "" {
			return fmt.Errorf("assertions[%d]: oid is required for %s", index, a.Type)
		}
	case AssertHead, AssertResurrected:
	case AssertCommitCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for commit_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// knownCode reports whether code names an edb error code.
func knownCode(code string) bool {
	switch edb.ErrorCode(code) {
	case edb.CodeAlreadyExists, edb.CodeNotFound, edb.CodeConflict, edb.CodeAlreadyCommitted,
		edb.CodePersistenceFailure, edb.CodeRollbackFailure, edb.CodeNoCommitAtTimestamp,
		edb.CodeAmbiguousCommit, edb.CodeInconsistentLog, edb.CodeRevisionMismatch,
		edb.CodeInvalidRecord, edb.CodeDuplicateEntry, edb.CodeRejected, edb.CodeInvalidQuery:
		return true
	}
	return false
}
