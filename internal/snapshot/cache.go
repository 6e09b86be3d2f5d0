package snapshot

import "sync"

// Cache holds the single most recent snapshot of a stream. The feed driver
// is the only writer; readers (API handlers, late-joining subscribers) take
// a copy under a read lock and never block each other.
type Cache struct {
	mu     sync.RWMutex
	latest Snapshot
	set    bool
}

func NewCache() *Cache {
	return &Cache{}
}

// Set makes snap the latest value if its sequence is strictly greater than
// the current one. Out-of-order or duplicate sequences are rejected as a
// no-op and Set returns false. This guards against producer bugs ever
// rolling the visible value backwards.
func (c *Cache) Set(snap Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set && snap.Sequence <= c.latest.Sequence {
		return false
	}
	c.latest = snap
	c.set = true
	return true
}

// Get returns the latest snapshot, or false if the cache was never
// populated. It never blocks on the writer beyond the lock itself.
func (c *Cache) Get() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.set
}
