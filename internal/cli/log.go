package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/record"
)

// LogLine pairs a snapshot with the commit that wrote it.
type LogLine struct {
	Record record.Record     `json:"record"`
	Commit record.CommitMeta `json:"commit"`
}

// LogLines prints one snapshot and its commit per line in text mode.
type LogLines []LogLine

func (ls LogLines) String() string {
	if len(ls) == 0 {
		return "(none)"
	}
	lines := make([]string, len(ls))
	for i, l := range ls {
		lines[i] = fmt.Sprintf("%s  [%s %s/%s]", formatRecord(l.Record), l.Commit.Revision, l.Commit.Committer, l.Commit.Context)
	}
	return strings.Join(lines, "\n")
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RangeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log <oid>",
		Short: "List an object's snapshots with their commits",
		Long: `List the snapshots of an object, each with the commit that wrote it.

Fails (exit 1) when snapshots and commits disagree, which means the store
is corrupt; run "edb verify" for details.

Examples:
  edb log --db ./edb.db pump/1
  edb log --db ./edb.db pump/1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, args[0], cmd)
		},
	}
	addRangeFlags(cmd, opts)

	return cmd
}

func runLog(opts *RangeOptions, oid string, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	from, to := opts.bounds()
	entries, err := s.db.GetLog(commandContext(cmd), oid, from, to)
	if err != nil {
		return wrapDatabaseError("failed to get log", err)
	}
	return s.out.Success(logLines(entries))
}

func logLines(entries []edb.LogEntry) LogLines {
	out := make(LogLines, len(entries))
	for i, e := range entries {
		out[i] = LogLine{Record: e.Record, Commit: e.Commit.Meta()}
	}
	return out
}
