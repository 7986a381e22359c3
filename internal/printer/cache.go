package printer

import (
	"sync"
	"time"
)

// CacheWindow is how long after a successful connection a device is treated
// as warm.
const CacheWindow = 10 * time.Second

// RecencyCache records the last successful connection per address. Entries
// are never evicted: stale ones simply stop counting as recent. Memory is
// bounded by the number of distinct printers seen during the process
// lifetime.
type RecencyCache struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewRecencyCache returns an empty cache with the given window.
func NewRecencyCache(window time.Duration) *RecencyCache {
	return &RecencyCache{window: window, last: make(map[string]time.Time)}
}

// Touch records a successful connection to address at t.
func (c *RecencyCache) Touch(address string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[addressKey(address)] = t
}

// Recent reports whether address connected successfully within the window
// before now.
func (c *RecencyCache) Recent(address string, now time.Time) bool {
	last, ok := c.Last(address)
	return ok && now.Sub(last) < c.window
}

// Last returns the last successful connection time for address.
func (c *RecencyCache) Last(address string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[addressKey(address)]
	return t, ok
}

func (c *RecencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
