package testutil

import (
	"fmt"
	"sync"
)

// SequentialKeyGenerator generates "<prefix>-1", "<prefix>-2", ...
//
// Queue keys must be unique, so unlike a fixed token this never repeats.
// Implements engine.KeyGenerator. Safe for concurrent use.
type SequentialKeyGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialKeyGenerator creates a generator. An empty prefix means "key".
func NewSequentialKeyGenerator(prefix string) *SequentialKeyGenerator {
	if prefix == "" {
		prefix = "key"
	}
	return &SequentialKeyGenerator{prefix: prefix}
}

// Generate returns the next key.
func (g *SequentialKeyGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
