package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialRevisions generates "rev-0001", "rev-0002", ... for tests and
// golden files. Unlike edb.FixedGenerator it never runs out.
//
// Thread-safety: SequentialRevisions is safe for concurrent use.
type SequentialRevisions struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialRevisions creates a generator. An empty prefix means "rev".
func NewSequentialRevisions(prefix string) *SequentialRevisions {
	if prefix == "" {
		prefix = "rev"
	}
	return &SequentialRevisions{prefix: prefix}
}

// Generate returns the next revision.
func (g *SequentialRevisions) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}
