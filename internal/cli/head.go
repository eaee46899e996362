package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/queryir"
)

// NewHeadCommand creates the head command.
func NewHeadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "head",
		Short: "List every active object",
		Long: `List the latest snapshot of every active object, by OID.

With --at, list the head as it was at that commit timestamp.

Examples:
  edb head --db ./edb.db
  edb head --db ./edb.db --at 1704067200000 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHead(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.At, "at", 0, "commit timestamp to read at (default latest)")

	return cmd
}

func runHead(opts *ObjectOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	at := queryir.Latest
	if opts.At > 0 {
		at = opts.At
	}
	head, err := s.db.GetHeadAt(commandContext(cmd), at)
	if err != nil {
		return wrapDatabaseError("failed to get head", err)
	}
	return s.out.Success(Records(head))
}

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	At              int64
	CaseInsensitive bool
	Wildcards       bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <key=value>...",
		Short: "Find active objects by field values",
		Long: `List the active objects whose fields match every key=value.

Values are read as an integer, a float, true or false, @oid for a
reference, and a string otherwise. A key ending in * matches every field
whose key starts with the rest of it.

Examples:
  edb query --db ./edb.db kind=pump stages=3
  edb query --db ./edb.db 'owner*=@team/ops'
  edb query --db ./edb.db name=%pump% --wildcards --ignore-case`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.At, "at", 0, "commit timestamp to read at (default latest)")
	cmd.Flags().BoolVarP(&opts.CaseInsensitive, "ignore-case", "i", false, "compare strings case-insensitively")
	cmd.Flags().BoolVar(&opts.Wildcards, "wildcards", false, "treat % and _ in strings as wildcards")

	return cmd
}

func runQuery(opts *QueryOptions, args []string, cmd *cobra.Command) error {
	fields, err := parseAssignments(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query", err)
	}

	var qopts []edb.QueryOption
	if opts.At > 0 {
		qopts = append(qopts, edb.AsOf(opts.At))
	}
	if opts.CaseInsensitive {
		qopts = append(qopts, edb.CaseInsensitive())
	}
	if opts.Wildcards {
		qopts = append(qopts, edb.Wildcards())
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.db.Query(commandContext(cmd), fields, qopts...)
	if err != nil {
		return wrapDatabaseError("query failed", err)
	}
	return s.out.Success(Records(recs))
}
