package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/edb/internal/edb"
)

// VerifyResult holds the integrity check output.
type VerifyResult struct {
	Consistent      bool                `json:"consistent"`
	Inconsistencies []edb.Inconsistency `json:"inconsistencies"`
}

func (r VerifyResult) String() string {
	if r.Consistent {
		return "✓ store is consistent"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ %d inconsistencies", len(r.Inconsistencies))
	for _, inc := range r.Inconsistencies {
		b.WriteString("\n  " + inc.String())
	}
	return b.String()
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the store's integrity",
		Long: `Check that snapshots and commits agree:

- every snapshot is listed by the commit at its timestamp
- every OID a commit lists has a snapshot at the commit's timestamp
- deletes are tombstones and inserts/updates are live snapshots
- live versions of each object count up by one from 1 after each insert

Exit codes:
  0 - store is consistent
  1 - inconsistencies found
  2 - command error (database not found, etc.)

Example:
  edb verify --db ./edb.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	found, err := s.db.Verify(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to verify store", err)
	}

	result := VerifyResult{Consistent: len(found) == 0, Inconsistencies: found}
	if result.Inconsistencies == nil {
		result.Inconsistencies = []edb.Inconsistency{}
	}
	if err := s.out.Success(result); err != nil {
		return err
	}
	if !result.Consistent {
		exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d inconsistencies found", len(found)))
		exitErr.Reported = true
		return exitErr
	}
	return nil
}
