package hierarchy

import (
	"strings"
	"sync"
	"time"

	"github.com/3leaps/bucketview/pkg/keypath"
)

type cacheEntry struct {
	nodes   []Node
	expires time.Time
}

// listingCache maps (bucket, prefix) to the last projected listing.
//
// Every invalidation bumps the bucket's generation. A listing is only stored
// when the generation it was started under is still current, so a listing
// that raced a mutation never outlives that mutation's invalidation.
type listingCache struct {
	ttl time.Duration
	now func() time.Time

	mu          sync.RWMutex
	entries     map[string]map[string]cacheEntry
	generations map[string]uint64
}

func newListingCache(ttl time.Duration) *listingCache {
	return &listingCache{
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]map[string]cacheEntry),
		generations: make(map[string]uint64),
	}
}

// generation returns the token a later put must present.
func (c *listingCache) generation(bucket string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[bucket]
}

func (c *listingCache) get(bucket, prefix string) ([]Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[bucket][prefix]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return cloneNodes(e.nodes), true
}

// put stores nodes unless bucket was invalidated since gen was read.
func (c *listingCache) put(bucket, prefix string, gen uint64, nodes []Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[bucket] != gen {
		return false
	}
	b, ok := c.entries[bucket]
	if !ok {
		b = make(map[string]cacheEntry)
		c.entries[bucket] = b
	}
	b[prefix] = cacheEntry{nodes: cloneNodes(nodes), expires: c.now().Add(c.ttl)}
	return true
}

// invalidate drops folder, every ancestor of folder, and every cached
// descendant of folder.
func (c *listingCache) invalidate(bucket string, folder keypath.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[bucket]++
	b, ok := c.entries[bucket]
	if !ok {
		return
	}

	for p, more := folder, true; more; p, more = keypath.Parent(p) {
		delete(b, keypath.Prefix(p))
	}

	if folder.IsRoot() {
		clear(b)
		return
	}
	below := keypath.Prefix(folder)
	for prefix := range b {
		if strings.HasPrefix(prefix, below) {
			delete(b, prefix)
		}
	}
}

func (c *listingCache) drop(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[bucket]++
	delete(c.entries, bucket)
}

func cloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	copy(out, nodes)
	return out
}
