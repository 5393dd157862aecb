package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns predictable dispatcher IDs for golden traces.
//
// With an explicit list it returns those IDs in order and then panics, so a
// test that builds more dispatchers than expected fails fast. With no list
// it numbers IDs "test-dispatcher-1", "test-dispatcher-2", ...
//
// It satisfies dispatch.IDGenerator.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []string
	n   int
}

// NewFixedIDGenerator creates a generator returning ids in order.
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// Generate returns the next ID.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	if len(g.ids) == 0 {
		return fmt.Sprintf("test-dispatcher-%d", g.n)
	}
	if g.n > len(g.ids) {
		panic("FixedIDGenerator: all ids exhausted")
	}
	return g.ids[g.n-1]
}
