package edb

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/edb/internal/metrics"
	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

// DefaultCommitCacheSize is the number of commit metadata entries kept in
// memory. Commit metadata never changes once written.
const DefaultCommitCacheSize = 1024

// tracerName identifies this package's spans.
const tracerName = "github.com/roach88/edb/internal/edb"

// Database is the engineering database: versioned objects, applied in
// atomic commits, readable at any point in time.
//
// Thread-safety model:
//   - Every method is safe for concurrent use
//   - Apply calls are serialized by the store's write transaction; conflict
//     detection runs inside it, so two commits never both pass validation
//     against the same state
//   - Reads see only fully applied commits
type Database struct {
	store          Store
	clock          *Clock
	revisions      RevisionGenerator
	detector       Detector
	hooks          hookSet
	checkRevisions bool
	cacheSize      int
	commits        *lru.Cache[int64, record.CommitMeta]
	metrics        *metrics.Metrics
	logger         *slog.Logger
	tracer         trace.Tracer
}

// DatabaseOption allows configuration of database parameters.
type DatabaseOption func(*Database)

// WithNow sets the time source for commit timestamps (Unix milliseconds).
func WithNow(now NowFunc) DatabaseOption {
	return func(db *Database) {
		db.clock = NewClock(now)
	}
}

// WithRevisionGenerator sets how commit revisions are generated.
// Default: UUIDv7Generator.
func WithRevisionGenerator(g RevisionGenerator) DatabaseOption {
	return func(db *Database) {
		db.revisions = g
	}
}

// WithRevisionCheck makes Apply fail with RevisionMismatch when a commit's
// Parent is set and is no longer the head revision.
func WithRevisionCheck(enabled bool) DatabaseOption {
	return func(db *Database) {
		db.checkRevisions = enabled
	}
}

// WithCommitCacheSize sets the commit metadata cache size.
// Default: 1024 (DefaultCommitCacheSize).
func WithCommitCacheSize(n int) DatabaseOption {
	return func(db *Database) {
		db.cacheSize = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) DatabaseOption {
	return func(db *Database) {
		db.logger = l
	}
}

// WithMetrics records commit and read metrics.
func WithMetrics(m *metrics.Metrics) DatabaseOption {
	return func(db *Database) {
		db.metrics = m
	}
}

// WithTracer sets the tracer. Default: the global OpenTelemetry provider.
func WithTracer(t trace.Tracer) DatabaseOption {
	return func(db *Database) {
		db.tracer = t
	}
}

// WithBeginCommitHook registers a hook run before each commit.
func WithBeginCommitHook(h BeginCommitHook) DatabaseOption {
	return func(db *Database) {
		db.hooks.begin = append(db.hooks.begin, h)
	}
}

// WithPreCommitHook registers a hook run inside the write transaction.
func WithPreCommitHook(h PreCommitHook) DatabaseOption {
	return func(db *Database) {
		db.hooks.pre = append(db.hooks.pre, h)
	}
}

// WithPostCommitHook registers a hook run after each applied commit.
func WithPostCommitHook(h PostCommitHook) DatabaseOption {
	return func(db *Database) {
		db.hooks.post = append(db.hooks.post, h)
	}
}

// WithErrorHook registers a hook run when a commit fails.
func WithErrorHook(h ErrorHook) DatabaseOption {
	return func(db *Database) {
		db.hooks.err = append(db.hooks.err, h)
	}
}

// New creates a Database over store.
//
// The commit clock starts after the store's newest timestamp, so a reopened
// database never reuses one.
func New(ctx context.Context, store Store, opts ...DatabaseOption) (*Database, error) {
	db := &Database{
		store:     store,
		clock:     NewClock(nil),
		revisions: UUIDv7Generator{},
		cacheSize: DefaultCommitCacheSize,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(db)
	}

	if db.tracer == nil {
		db.tracer = otel.Tracer(tracerName)
	}
	if db.cacheSize <= 0 {
		db.cacheSize = DefaultCommitCacheSize
	}

	cache, err := lru.New[int64, record.CommitMeta](db.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create commit cache: %w", err)
	}
	db.commits = cache

	last, err := store.LastTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last timestamp: %w", err)
	}
	db.clock.Observe(last)

	return db, nil
}

// Close closes the underlying store.
func (db *Database) Close() error {
	return db.store.Close()
}

// Store returns the underlying store.
func (db *Database) Store() Store {
	return db.store
}

// CreateCommit creates an empty draft based on the current head revision.
func (db *Database) CreateCommit(ctx context.Context, committer, contextID string) (*Commit, error) {
	head, err := db.CurrentRevision(ctx)
	if err != nil {
		return nil, err
	}
	c := NewCommit(committer, contextID)
	c.Parent = head
	return c, nil
}

// CurrentRevision returns the revision of the newest commit, "" when the
// database is empty.
func (db *Database) CurrentRevision(ctx context.Context) (string, error) {
	rev, err := headRevision(ctx, db.store)
	if err != nil {
		return "", fmt.Errorf("current revision: %w", err)
	}
	return rev, nil
}

// headRevision reads the newest commit's revision through r.
func headRevision(ctx context.Context, r Reader) (string, error) {
	metas, err := r.Commits(ctx, queryir.Commits{Last: true})
	if err != nil {
		return "", err
	}
	if len(metas) == 0 {
		return "", nil
	}
	return metas[0].Revision, nil
}
