package edb

import (
	"fmt"
	"sync"

	"github.com/roach88/edb/internal/record"
)

// entryKind is how a record was submitted to a commit.
type entryKind int

const (
	kindInsert entryKind = iota
	kindUpdate
	// kindAdd is resolved to insert or update by the conflict detector.
	kindAdd
)

func (k entryKind) String() string {
	switch k {
	case kindInsert:
		return "insert"
	case kindUpdate:
		return "update"
	default:
		return "add"
	}
}

type entry struct {
	kind entryKind
	rec  record.Record
}

// Commit is a set of inserts, updates, and deletes applied atomically.
//
// A Commit starts as a draft built with Insert, Update, Add, and Delete, and
// becomes committed when Database.Apply succeeds. Committed commits are
// immutable. Commits loaded from the database are always committed.
//
// The submitted records are kept as given. Apply resolves versions from
// them each time it runs, so a failed Apply can be retried unchanged.
type Commit struct {
	Committer string
	Context   string
	Comment   string
	// Parent is the head revision the commit was built on. When set and the
	// database checks revisions, Apply fails if the head has moved.
	Parent string

	applyMu   sync.Mutex // held for the whole of Apply
	mu        sync.Mutex // guards the fields below
	entries   []entry
	deletes   []string
	seen      map[string]struct{}
	committed bool

	// Set when committed.
	timestamp int64
	revision  string
	inserts   []record.Record
	updates   []record.Record
}

// NewCommit creates an empty draft.
func NewCommit(committer, context string) *Commit {
	return &Commit{
		Committer: committer,
		Context:   context,
		seen:      make(map[string]struct{}),
	}
}

// Insert adds a record that must not exist yet (or was deleted).
func (c *Commit) Insert(r record.Record) error {
	return c.addEntry(kindInsert, r)
}

// Update adds a new version of an existing record. A nonzero Version is the
// version the caller based its change on.
func (c *Commit) Update(r record.Record) error {
	return c.addEntry(kindUpdate, r)
}

// Add inserts r, or updates it when an active record with the OID exists at
// apply time.
func (c *Commit) Add(r record.Record) error {
	return c.addEntry(kindAdd, r)
}

// Delete marks an existing record deleted.
func (c *Commit) Delete(oid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkMutable(oid); err != nil {
		return err
	}
	if err := record.ValidateOID(oid); err != nil {
		return newInvalidError(oid, err)
	}
	c.seen[oid] = struct{}{}
	c.deletes = append(c.deletes, oid)
	return nil
}

func (c *Commit) addEntry(kind entryKind, r record.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkMutable(r.OID); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return newInvalidError(r.OID, err)
	}
	if r.Deleted || r.Timestamp != 0 {
		return newInvalidError(r.OID, fmt.Errorf("%w: deleted and timestamp are assigned by the database", record.ErrInvalid))
	}

	c.seen[r.OID] = struct{}{}
	c.entries = append(c.entries, entry{kind: kind, rec: r.Clone()})
	return nil
}

// checkMutable must be called with c.mu held.
func (c *Commit) checkMutable(oid string) error {
	if c.committed {
		return &Error{Code: CodeAlreadyCommitted, Timestamp: c.timestamp, Message: "commit is immutable"}
	}
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, dup := c.seen[oid]; dup {
		return &Error{Code: CodeDuplicateEntry, OID: oid, Message: "object appears twice in commit"}
	}
	return nil
}

// IsCommitted reports whether the commit has been applied.
func (c *Commit) IsCommitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

// Timestamp is the commit timestamp, 0 until committed.
func (c *Commit) Timestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

// Revision is the commit revision, "" until committed.
func (c *Commit) Revision() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Inserts returns the inserted records. Before Apply these are the records
// passed to Insert; afterwards they are the stored snapshots, including
// records passed to Add that resolved to inserts.
func (c *Commit) Inserts() []record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return cloneRecords(c.inserts)
	}
	return c.submitted(kindInsert)
}

// Updates returns the updated records, like Inserts. Updates that turned out
// to change nothing are not part of a committed commit.
func (c *Commit) Updates() []record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return cloneRecords(c.updates)
	}
	return c.submitted(kindUpdate)
}

// Records returns inserts then updates. Before Apply, records passed to Add
// follow them.
func (c *Commit) Records() []record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return append(cloneRecords(c.inserts), cloneRecords(c.updates)...)
	}
	out := c.submitted(kindInsert)
	out = append(out, c.submitted(kindUpdate)...)
	return append(out, c.submitted(kindAdd)...)
}

// Deletes returns the deleted OIDs in submission order.
func (c *Commit) Deletes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.deletes...)
}

// Meta returns the commit metadata. OID lists reflect what was written once
// committed.
func (c *Commit) Meta() record.CommitMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metaLocked()
}

func (c *Commit) metaLocked() record.CommitMeta {
	m := record.CommitMeta{
		Timestamp: c.timestamp,
		Revision:  c.revision,
		Parent:    c.Parent,
		Committer: c.Committer,
		Context:   c.Context,
		Comment:   c.Comment,
		Deleted:   append([]string{}, c.deletes...),
	}
	src := c.inserts
	if !c.committed {
		src = c.submitted(kindInsert)
	}
	for _, r := range src {
		m.Inserted = append(m.Inserted, r.OID)
	}
	src = c.updates
	if !c.committed {
		src = c.submitted(kindUpdate)
	}
	for _, r := range src {
		m.Updated = append(m.Updated, r.OID)
	}
	return m.Normalize()
}

// submitted must be called with c.mu held.
func (c *Commit) submitted(kind entryKind) []record.Record {
	out := []record.Record{}
	for _, e := range c.entries {
		if e.kind == kind {
			out = append(out, e.rec.Clone())
		}
	}
	return out
}

// snapshot returns the submitted entries and deletes for the detector.
// Must be called with c.mu held.
func (c *Commit) snapshot() ([]entry, []string) {
	entries := make([]entry, len(c.entries))
	for i, e := range c.entries {
		entries[i] = entry{kind: e.kind, rec: e.rec.Clone()}
	}
	return entries, append([]string{}, c.deletes...)
}

// markCommitted stamps the commit with its stored metadata.
// Must be called with c.mu held.
func (c *Commit) markCommitted(m record.CommitMeta, res Resolution) {
	c.committed = true
	c.timestamp = m.Timestamp
	c.revision = m.Revision
	c.Parent = m.Parent
	c.inserts = cloneRecords(res.Inserts)
	c.updates = cloneRecords(res.Updates)
	// Unchanged updates were not written; only written deletes remain.
	c.deletes = append([]string{}, res.Deletes...)
}

// loadedCommit rebuilds a committed Commit from stored metadata and the
// snapshots written at its timestamp.
func loadedCommit(m record.CommitMeta, snapshots []record.Record) *Commit {
	byOID := make(map[string]record.Record, len(snapshots))
	for _, s := range snapshots {
		byOID[s.OID] = s
	}

	c := &Commit{
		Committer: m.Committer,
		Context:   m.Context,
		Comment:   m.Comment,
		Parent:    m.Parent,
		seen:      make(map[string]struct{}),
		committed: true,
		timestamp: m.Timestamp,
		revision:  m.Revision,
		inserts:   []record.Record{},
		updates:   []record.Record{},
		deletes:   append([]string{}, m.Deleted...),
	}
	for _, oid := range m.Inserted {
		if s, ok := byOID[oid]; ok {
			c.inserts = append(c.inserts, s)
		}
	}
	for _, oid := range m.Updated {
		if s, ok := byOID[oid]; ok {
			c.updates = append(c.updates, s)
		}
	}
	return c
}

func cloneRecords(in []record.Record) []record.Record {
	out := make([]record.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
