package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator returns predetermined identifiers in order, then falls
// back to "<prefix>-<n>".
//
// Implements store.IDGenerator, so client identifiers in tests and golden
// files are stable.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	ids    []string
	n      int
}

// NewSequenceGenerator creates a generator that yields ids first.
//
// Example:
//
//	gen := NewSequenceGenerator("client", "client-fixed")
//	gen.Generate() // "client-fixed"
//	gen.Generate() // "client-2"
func NewSequenceGenerator(prefix string, ids ...string) *SequenceGenerator {
	if prefix == "" {
		prefix = "test"
	}
	return &SequenceGenerator{prefix: prefix, ids: ids}
}

// Generate returns the next identifier.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Count returns how many identifiers have been generated.
func (g *SequenceGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
