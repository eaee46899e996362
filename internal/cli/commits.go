package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/record"
)

// CommitView is a commit and the snapshots it wrote.
type CommitView struct {
	Commit  record.CommitMeta `json:"commit"`
	Records Records           `json:"records"`
}

func (v CommitView) String() string {
	var b strings.Builder
	b.WriteString(formatCommit(v.Commit))
	for _, r := range v.Records {
		b.WriteString("\n  ")
		b.WriteString(formatRecord(r))
	}
	return b.String()
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <timestamp>",
		Short: "Show the commit at a timestamp",
		Long: `Show the commit with exactly the given timestamp and the snapshots
it wrote.

Example:
  edb commit --db ./edb.db 1704067200000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(rootOpts, args[0], cmd)
		},
	}
}

func runCommit(opts *RootOptions, arg string, cmd *cobra.Command) error {
	ts, err := parseTimestamp(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid argument", err)
	}

	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.db.GetCommit(commandContext(cmd), ts)
	if err != nil {
		return wrapDatabaseError("failed to get commit", err)
	}
	return s.out.Success(CommitView{Commit: c.Meta(), Records: Records(c.Records())})
}

// CommitsOptions holds flags for the commits command.
type CommitsOptions struct {
	*RootOptions
	edb.CommitQuery
}

// CommitList prints one commit header per line in text mode.
type CommitList []record.CommitMeta

func (l CommitList) String() string {
	if len(l) == 0 {
		return "(none)"
	}
	lines := make([]string, len(l))
	for i, m := range l {
		lines[i] = formatCommit(m)
	}
	return strings.Join(lines, "\n")
}

// NewCommitsCommand creates the commits command.
func NewCommitsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commits",
		Short: "List commits",
		Long: `List commits oldest first, optionally filtered by committer, context
and timestamp range.

Examples:
  edb commits --db ./edb.db
  edb commits --db ./edb.db --committer alice --context plant-a`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommits(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Committer, "committer", "", "only commits by this committer")
	cmd.Flags().StringVar(&opts.Context, "context", "", "only commits in this context")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "first commit timestamp (inclusive)")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "last commit timestamp (inclusive, default latest)")

	return cmd
}

func runCommits(opts *CommitsOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	metas, err := s.db.CommitRevisions(commandContext(cmd), opts.CommitQuery)
	if err != nil {
		return wrapDatabaseError("failed to list commits", err)
	}
	return s.out.Success(CommitList(metas))
}

// DiffView is the OID-level change between two commits.
type DiffView struct {
	From    record.CommitMeta `json:"from"`
	To      record.CommitMeta `json:"to"`
	Added   []string          `json:"added"`
	Removed []string          `json:"removed"`
	Changed []string          `json:"changed"`
}

func (v DiffView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d..%d", v.From.Timestamp, v.To.Timestamp)
	for _, oid := range v.Added {
		b.WriteString("\n+ " + oid)
	}
	for _, oid := range v.Removed {
		b.WriteString("\n- " + oid)
	}
	for _, oid := range v.Changed {
		b.WriteString("\n~ " + oid)
	}
	return b.String()
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <t1> <t2>",
		Short: "Compare the heads at two commits",
		Long: `Compare the heads as of two commit timestamps. Both timestamps must
name a commit.

Output marks objects added (+), removed (-) and changed (~) going from t1
to t2.

Example:
  edb diff --db ./edb.db 1704067200000 1704067201000`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(rootOpts, args, cmd)
		},
	}
}

func runDiff(opts *RootOptions, args []string, cmd *cobra.Command) error {
	t1, err := parseTimestamp(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid argument", err)
	}
	t2, err := parseTimestamp(args[1])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid argument", err)
	}

	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.db.GetDiff(commandContext(cmd), t1, t2)
	if err != nil {
		return wrapDatabaseError("failed to diff", err)
	}
	return s.out.Success(DiffView{
		From:    d.CommitA.Meta(),
		To:      d.CommitB.Meta(),
		Added:   d.Added(),
		Removed: d.Removed(),
		Changed: d.Changed(),
	})
}

// NewResurrectedCommand creates the resurrected command.
func NewResurrectedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resurrected",
		Short: "List objects deleted and inserted again",
		Long: `List the OIDs of objects that were deleted and later inserted again.

Example:
  edb resurrected --db ./edb.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResurrected(rootOpts, cmd)
		},
	}
}

func runResurrected(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	oids, err := s.db.GetResurrectedOIDs(commandContext(cmd))
	if err != nil {
		return wrapDatabaseError("failed to list resurrected objects", err)
	}
	return s.out.Success(OIDList(oids))
}
