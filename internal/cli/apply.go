package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/edb/internal/changeset"
	"github.com/roach88/edb/internal/record"
)

// ApplyResult describes an applied commit.
type ApplyResult struct {
	record.CommitMeta
}

func (r ApplyResult) String() string {
	return fmt.Sprintf("committed %d %s (+%d ~%d -%d)",
		r.Timestamp, r.Revision, len(r.Inserted), len(r.Updated), len(r.Deleted))
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <changeset>",
		Short: "Apply a changeset as one commit",
		Long: `Apply a changeset file as one atomic commit.

The file may be CUE (.cue), YAML (.yaml, .yml) or JSON (.json):

  committer: alice
  context:   plant-a
  insert: [{oid: "pump/1", fields: {flow: 12.5}}]
  update: [{oid: "pump/2", version: 3, fields: {flow: 9.0}}]
  delete: ["valve/7"]

Either every change is applied or none is. A rejected commit exits 1.

Examples:
  edb apply --db ./edb.db changes.cue
  edb apply --db ./data --backend pebble changes.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, args[0], cmd)
		},
	}
}

func runApply(opts *RootOptions, path string, cmd *cobra.Command) error {
	cs, err := changeset.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load changeset", err)
	}
	c, err := cs.Commit()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid changeset", err)
	}

	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	s.out.VerboseLog("applying %d changes from %s", cs.Size(), path)
	if _, err := s.db.Apply(commandContext(cmd), c); err != nil {
		return wrapDatabaseError("commit rejected", err)
	}
	return s.out.Success(ApplyResult{c.Meta()})
}
