package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/edb/internal/queryir"
)

// ObjectOptions holds flags for the get command.
type ObjectOptions struct {
	*RootOptions
	At int64
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <oid>",
		Short: "Show an object",
		Long: `Show the latest snapshot of an object.

With --at, show the newest snapshot at or before that commit timestamp,
which may be a tombstone.

Examples:
  edb get --db ./edb.db pump/1
  edb get --db ./edb.db pump/1 --at 1704067200000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.At, "at", 0, "commit timestamp to read at (default latest)")

	return cmd
}

func runGet(opts *ObjectOptions, oid string, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	if opts.At > 0 {
		r, err := s.db.GetObjectAt(ctx, oid, opts.At)
		if err != nil {
			return wrapDatabaseError("failed to get object", err)
		}
		return s.out.Success(Records{r})
	}
	r, err := s.db.GetObject(ctx, oid)
	if err != nil {
		return wrapDatabaseError("failed to get object", err)
	}
	return s.out.Success(Records{r})
}

// RangeOptions holds flags for the history and log commands.
type RangeOptions struct {
	*RootOptions
	From int64
	To   int64
}

func (o *RangeOptions) bounds() (int64, int64) {
	if o.To <= 0 {
		return o.From, queryir.Latest
	}
	return o.From, o.To
}

func addRangeFlags(cmd *cobra.Command, opts *RangeOptions) {
	cmd.Flags().Int64Var(&opts.From, "from", 0, "first commit timestamp (inclusive)")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "last commit timestamp (inclusive, default latest)")
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RangeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <oid>",
		Short: "List every snapshot of an object",
		Long: `List the snapshots of an object, tombstones included, oldest first.

Examples:
  edb history --db ./edb.db pump/1
  edb history --db ./edb.db pump/1 --from 1704067200000 --to 1704067300000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}
	addRangeFlags(cmd, opts)

	return cmd
}

func runHistory(opts *RangeOptions, oid string, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	from, to := opts.bounds()
	hist, err := s.db.GetHistoryRange(commandContext(cmd), oid, from, to)
	if err != nil {
		return wrapDatabaseError("failed to get history", err)
	}
	return s.out.Success(Records(hist))
}
