package velesql

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PlanCache caches physical plans by canonical query string, mirroring
// the single-mutex LRU discipline used for point-payload caching in
// pkg/cache, specialized to a string key and a *Op value.
type PlanCache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, *Op]
}

// NewPlanCache returns a plan cache holding at most capacity entries.
// A non-positive capacity is raised to 1.
func NewPlanCache(capacity int) *PlanCache {
	if capacity <= 0 {
		capacity = 1
	}
	inner, err := lru.New[string, *Op](capacity)
	if err != nil {
		inner, _ = lru.New[string, *Op](1)
	}
	return &PlanCache{inner: inner}
}

// Get looks up a plan by canonical query string.
func (c *PlanCache) Get(canonical string) (*Op, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(canonical)
}

// Put stores a plan under its canonical query string, evicting the
// least recently used entry if the cache is full.
func (c *PlanCache) Put(canonical string, plan *Op) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(canonical, plan)
}

// Len reports the number of cached plans.
func (c *PlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

// Purge evicts every cached plan, used when schema or table
// statistics change in a way that could invalidate prior estimates.
func (c *PlanCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}
