package edb

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes database errors.
type ErrorCode string

const (
	// CodeAlreadyExists: insert of an OID that has an active record.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeNotFound: no active record for the OID (or nothing matched).
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict: a stale update disagrees with the current record on a field.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeAlreadyCommitted: the commit was applied before.
	CodeAlreadyCommitted ErrorCode = "ALREADY_COMMITTED"

	// CodePersistenceFailure: the store rejected a write; nothing was applied.
	CodePersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"

	// CodeRollbackFailure: rolling back a failed write also failed.
	CodeRollbackFailure ErrorCode = "ROLLBACK_FAILURE"

	// CodeNoCommitAtTimestamp: no commit has exactly the requested timestamp.
	CodeNoCommitAtTimestamp ErrorCode = "NO_COMMIT_AT_TIMESTAMP"

	// CodeAmbiguousCommit: more than one commit has the requested timestamp.
	CodeAmbiguousCommit ErrorCode = "AMBIGUOUS_COMMIT"

	// CodeInconsistentLog: snapshots and commits disagree for a time range.
	CodeInconsistentLog ErrorCode = "INCONSISTENT_LOG"

	// CodeRevisionMismatch: the commit was built on a revision that is no
	// longer the head revision.
	CodeRevisionMismatch ErrorCode = "REVISION_MISMATCH"

	// CodeInvalidRecord: a record or query failed validation.
	CodeInvalidRecord ErrorCode = "INVALID_RECORD"

	// CodeDuplicateEntry: an OID appears twice in one commit.
	CodeDuplicateEntry ErrorCode = "DUPLICATE_ENTRY"

	// CodeRejected: a pre-commit hook refused the commit.
	CodeRejected ErrorCode = "REJECTED"

	// CodeInvalidQuery: query parameters could not be interpreted.
	CodeInvalidQuery ErrorCode = "INVALID_QUERY"
)

// Error is the error type every Database operation returns.
//
// Sentinels such as ErrNotFound match any *Error with the same code through
// errors.Is, so callers can write errors.Is(err, edb.ErrConflict) and still
// use errors.As to reach OID and Field.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// OID identifies the affected object, when there is one.
	OID string

	// Field names the first conflicting field (CodeConflict only).
	Field string

	// Timestamp identifies the affected commit, when there is one.
	Timestamp int64

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Sentinels for errors.Is.
var (
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrConflict           = &Error{Code: CodeConflict}
	ErrAlreadyCommitted   = &Error{Code: CodeAlreadyCommitted}
	ErrPersistenceFailure = &Error{Code: CodePersistenceFailure}
	ErrRollbackFailure    = &Error{Code: CodeRollbackFailure}
	ErrNoCommitAt         = &Error{Code: CodeNoCommitAtTimestamp}
	ErrAmbiguousCommit    = &Error{Code: CodeAmbiguousCommit}
	ErrInconsistentLog    = &Error{Code: CodeInconsistentLog}
	ErrRevisionMismatch   = &Error{Code: CodeRevisionMismatch}
	ErrInvalidRecord      = &Error{Code: CodeInvalidRecord}
	ErrDuplicateEntry     = &Error{Code: CodeDuplicateEntry}
	ErrRejected           = &Error{Code: CodeRejected}
	ErrInvalidQuery       = &Error{Code: CodeInvalidQuery}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	switch {
	case e.OID != "" && e.Field != "":
		msg += fmt.Sprintf(" (oid=%s, field=%s)", e.OID, e.Field)
	case e.OID != "":
		msg += fmt.Sprintf(" (oid=%s)", e.OID)
	case e.Timestamp != 0:
		msg += fmt.Sprintf(" (timestamp=%d)", e.Timestamp)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if err is a field conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidationError returns true if err rejects the commit's content, as
// opposed to a storage or consistency problem.
func IsValidationError(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyExists, CodeNotFound, CodeConflict, CodeInvalidRecord,
		CodeDuplicateEntry, CodeRevisionMismatch, CodeRejected:
		return true
	}
	return false
}

// NewAlreadyExistsError creates an Error for an insert over an active record.
func NewAlreadyExistsError(oid string) *Error {
	return &Error{Code: CodeAlreadyExists, OID: oid, Message: "object already exists"}
}

// NewNotFoundError creates an Error for a missing or deleted object.
func NewNotFoundError(oid string) *Error {
	return &Error{Code: CodeNotFound, OID: oid, Message: "no active object"}
}

// NewConflictError creates an Error naming the first conflicting field.
func NewConflictError(oid, field string, submitted, current int64) *Error {
	return &Error{
		Code:    CodeConflict,
		OID:     oid,
		Field:   field,
		Message: fmt.Sprintf("version %d is stale (current %d) and field differs", submitted, current),
	}
}

// NewNoCommitError creates an Error for a timestamp without a commit.
func NewNoCommitError(ts int64) *Error {
	return &Error{Code: CodeNoCommitAtTimestamp, Timestamp: ts, Message: "no commit at timestamp"}
}

// NewAmbiguousCommitError creates an Error for a timestamp shared by commits.
func NewAmbiguousCommitError(ts int64, n int) *Error {
	return &Error{
		Code:      CodeAmbiguousCommit,
		Timestamp: ts,
		Message:   fmt.Sprintf("%d commits share the timestamp", n),
	}
}

// NewInconsistentLogError creates an Error for a history/commit count mismatch.
func NewInconsistentLogError(oid string, snapshots, commits int) *Error {
	return &Error{
		Code:    CodeInconsistentLog,
		OID:     oid,
		Message: fmt.Sprintf("%d snapshots but %d commits in range", snapshots, commits),
	}
}

// newPersistenceError wraps a storage failure. A failed rollback is joined in
// as a second, wrapped RollbackFailure.
func newPersistenceError(ts int64, cause, rollbackErr error) *Error {
	err := cause
	if rollbackErr != nil {
		err = errors.Join(cause, &Error{Code: CodeRollbackFailure, Message: "rollback failed", Err: rollbackErr})
	}
	return &Error{
		Code:      CodePersistenceFailure,
		Timestamp: ts,
		Message:   "commit not applied",
		Err:       err,
	}
}

// newInvalidError wraps a validation failure from the record package.
func newInvalidError(oid string, err error) *Error {
	return &Error{Code: CodeInvalidRecord, OID: oid, Message: "invalid record", Err: err}
}

// newInvalidQueryError reports unusable query parameters.
func newInvalidQueryError(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidQuery, Message: fmt.Sprintf(format, args...)}
}
