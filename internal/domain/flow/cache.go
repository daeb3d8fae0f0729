package flow

import "sync"

type cacheKey struct {
	code    string
	version int
}

// graphCache holds compiled node graphs keyed by template code + version.
// Entries are evicted only by explicit invalidation on template edits.
type graphCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*NodeGraph
}

func newGraphCache() *graphCache {
	return &graphCache{
		entries: make(map[cacheKey]*NodeGraph),
	}
}

func (c *graphCache) get(code string, version int) (*NodeGraph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	graph, ok := c.entries[cacheKey{code, version}]
	return graph, ok
}

func (c *graphCache) put(code string, version int, graph *NodeGraph) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{code, version}] = graph
}

func (c *graphCache) invalidate(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.code == code {
			delete(c.entries, key)
		}
	}
}
