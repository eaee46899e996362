package edb

import "context"

// BeginCommitHook runs first in Apply, before the write transaction starts.
// It may add entries to the commit. An error aborts the commit and is
// returned as is; error hooks do not run.
type BeginCommitHook interface {
	OnBeginCommit(ctx context.Context, c *Commit) error
}

// PreCommitHook runs inside the write transaction after conflict detection.
// It sees the store through tx and must not use the Database itself, which
// would wait on the open transaction. An error rejects the commit.
type PreCommitHook interface {
	OnPreCommit(ctx context.Context, tx Reader, c *Commit, res Resolution) error
}

// PostCommitHook runs after a commit is durable. It cannot fail the commit.
type PostCommitHook interface {
	OnPostCommit(ctx context.Context, c *Commit)
}

// ErrorHook runs when a commit is rejected or fails to persist. Returning a
// non-nil commit applies that commit in place of the failed one.
type ErrorHook interface {
	OnCommitError(ctx context.Context, c *Commit, err error) *Commit
}

// BeginCommitFunc adapts a function to BeginCommitHook.
type BeginCommitFunc func(ctx context.Context, c *Commit) error

func (f BeginCommitFunc) OnBeginCommit(ctx context.Context, c *Commit) error { return f(ctx, c) }

// PreCommitFunc adapts a function to PreCommitHook.
type PreCommitFunc func(ctx context.Context, tx Reader, c *Commit, res Resolution) error

func (f PreCommitFunc) OnPreCommit(ctx context.Context, tx Reader, c *Commit, res Resolution) error {
	return f(ctx, tx, c, res)
}

// PostCommitFunc adapts a function to PostCommitHook.
type PostCommitFunc func(ctx context.Context, c *Commit)

func (f PostCommitFunc) OnPostCommit(ctx context.Context, c *Commit) { f(ctx, c) }

// ErrorFunc adapts a function to ErrorHook.
type ErrorFunc func(ctx context.Context, c *Commit, err error) *Commit

func (f ErrorFunc) OnCommitError(ctx context.Context, c *Commit, err error) *Commit {
	return f(ctx, c, err)
}

// hookSet holds registered hooks in registration order.
type hookSet struct {
	begin []BeginCommitHook
	pre   []PreCommitHook
	post  []PostCommitHook
	err   []ErrorHook
}
