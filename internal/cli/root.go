package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/edb/internal/config"
	"github.com/roach88/edb/internal/edb"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// DB, Backend and Config locate the database. Non-empty flag values
	// override the config file, which overrides config.Default.
	DB      string
	Backend string
	Config  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the edb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "edb",
		Short: "edb - engineering database",
		Long: `A versioned object store. Every change is an atomic commit, and
every object can be read as it was at any commit.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "database file (sqlite) or directory (pebble)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend (sqlite|pebble)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "YAML settings file")

	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewHeadCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewCommitCommand(opts))
	cmd.AddCommand(NewCommitsCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewResurrectedCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// settings merges the config file and flags.
func (o *RootOptions) settings() (config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		loaded, err := config.Load(o.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if o.DB != "" {
		cfg.Path = o.DB
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// logLevel is the configured level, lowered to debug by --verbose.
func (o *RootOptions) logLevel(cfg config.Config) slog.Level {
	if o.Verbose {
		return slog.LevelDebug
	}
	level, err := cfg.Level()
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// Execute runs the CLI with args and returns the process exit code.
// Failures are written to stderr, or to stdout as a JSON error response
// with --format json.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceErrors = true

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Reported {
		return exitErr.Code
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	if format == "json" {
		out := &OutputFormatter{Format: format, Writer: stdout}
		code := string(edb.CodeOf(err))
		if code == "" {
			code = "ERROR"
		}
		if writeErr := out.Error(code, err.Error(), nil); writeErr == nil {
			return GetExitCode(err)
		}
	}
	fmt.Fprintln(stderr, "edb:", err)
	return GetExitCode(err)
}
