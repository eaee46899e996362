package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/record"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected commit, failed lookup, inconsistent store
	ExitCommandError = 2 // Command error (bad arguments, unreadable database or file)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the command already wrote its outcome, so
	// Execute only sets the exit code.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// wrapDatabaseError classifies a database error: typed edb errors are
// failures of the request, anything else is a command error.
func wrapDatabaseError(message string, err error) *ExitError {
	if edb.CodeOf(err) != "" {
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // edb error code, e.g. "CONFLICT"
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format. Text output
// uses data's String method when it has one.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Records is a list of snapshots printed one per line in text mode.
type Records []record.Record

func (rs Records) String() string {
	if len(rs) == 0 {
		return "(none)"
	}
	lines := make([]string, len(rs))
	for i, r := range rs {
		lines[i] = formatRecord(r)
	}
	return strings.Join(lines, "\n")
}

// formatRecord renders "oid@timestamp v<version> {fields}", or
// "oid@timestamp deleted" for a tombstone.
func formatRecord(r record.Record) string {
	if r.Deleted {
		return fmt.Sprintf("%s@%d deleted", r.OID, r.Timestamp)
	}
	fields, err := record.MarshalCanonical(r.Fields)
	if err != nil {
		fields = []byte("<unprintable>")
	}
	return fmt.Sprintf("%s@%d v%d %s", r.OID, r.Timestamp, r.Version, fields)
}

// formatCommit renders one commit header line.
func formatCommit(m record.CommitMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s %s/%s", m.Timestamp, m.Revision, m.Committer, m.Context)
	if m.Comment != "" {
		fmt.Fprintf(&b, " %q", m.Comment)
	}
	fmt.Fprintf(&b, " +%d ~%d -%d", len(m.Inserted), len(m.Updated), len(m.Deleted))
	return b.String()
}

// OIDList prints one OID per line in text mode.
type OIDList []string

func (l OIDList) String() string {
	if len(l) == 0 {
		return "(none)"
	}
	return strings.Join(l, "\n")
}
