package edb

import (
	"sync"

	"github.com/google/uuid"
)

// RevisionGenerator produces commit revision identifiers.
type RevisionGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 revisions.
//
// UUIDv7 embeds a timestamp in the most significant bits, so revisions sort
// roughly in commit order, which helps when reading logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined revisions for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns revisions in order.
//
// Example:
//
//	gen := NewFixedGenerator("rev-1", "rev-2")
//	gen.Generate() // "rev-1"
//	gen.Generate() // "rev-2"
//	gen.Generate() // panic: all revisions exhausted
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined revision.
//
// Panics if all revisions have been consumed, which means a test applied
// more commits than it planned for.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all revisions exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
