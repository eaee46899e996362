package kvstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/queryir"
	"github.com/roach88/edb/internal/record"
)

const maxTS = queryir.Latest

// Store is the Pebble record store.
//
// Writers are serialized by a mutex held from Begin until Commit or
// Rollback; each transaction is one indexed batch, so its writes become
// visible at once. Readers only wait for current-state lookups while a
// commit publishes its batch and index entries.
type Store struct {
	reader
	db     *pebble.DB
	writer sync.Mutex
	// published is held for writing while a batch commits and the index
	// catches up, so an index read never trails a visible commit.
	published sync.RWMutex
	// latest maps each OID to the timestamp of its newest snapshot.
	latest *xsync.MapOf[string, int64]
}

var _ edb.Store = (*Store)(nil)

// Option configures Open.
type Option func(*pebble.Options)

// WithFS stores the database on fs instead of the OS file system.
// Tests use vfs.NewMem().
func WithFS(fs vfs.FS) Option {
	return func(o *pebble.Options) {
		o.FS = fs
	}
}

// WithCacheSize sets the block cache size in bytes.
func WithCacheSize(bytes int64) Option {
	return func(o *pebble.Options) {
		o.Cache = pebble.NewCache(bytes)
	}
}

// Open creates or opens a Pebble database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	o := &pebble.Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Cache != nil {
		defer o.Cache.Unref()
	}

	db, err := pebble.Open(dir, o)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		reader: reader{r: db},
		db:     db,
		latest: xsync.NewMapOf[string, int64](),
	}
	if err := s.loadLatest(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return s, nil
}

// loadLatest fills the latest-timestamp index from the snapshot keys.
func (s *Store) loadLatest() error {
	return s.scan(snapshotPrefix, upperBound(snapshotPrefix), false, func(key, _ []byte) (bool, error) {
		oid, ts, err := parseSnapshotKey(key)
		if err != nil {
			return false, err
		}
		s.latest.Store(oid, ts)
		return true, nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the underlying Pebble database.
func (s *Store) DB() *pebble.DB {
	return s.db
}

// Snapshot answers current-state reads from the latest-timestamp index
// with a single point lookup. It waits for a commit in progress to finish
// updating the index.
func (s *Store) Snapshot(ctx context.Context, oid string, asOf int64) (record.Record, bool, error) {
	if asOf != maxTS {
		return s.reader.Snapshot(ctx, oid, asOf)
	}
	s.published.RLock()
	defer s.published.RUnlock()
	ts, ok := s.latest.Load(oid)
	if !ok {
		return record.Record{}, false, nil
	}
	val, err := s.get(snapshotKey(oid, ts))
	if err != nil {
		return record.Record{}, false, fmt.Errorf("read snapshot %s: %w", oid, err)
	}
	if val == nil {
		return record.Record{}, false, fmt.Errorf("read snapshot %s: index points at missing snapshot %d", oid, ts)
	}
	r, err := decodeSnapshot(val)
	if err != nil {
		return record.Record{}, false, fmt.Errorf("read snapshot %s: %w", oid, err)
	}
	return r, true, nil
}

// Begin starts a write transaction, waiting for any other to finish.
func (s *Store) Begin(ctx context.Context) (edb.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	s.writer.Lock()
	b := s.db.NewIndexedBatch()
	return &Tx{
		reader:  reader{r: b},
		store:   s,
		batch:   b,
		written: map[string]int64{},
	}, nil
}
