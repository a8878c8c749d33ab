// Package blockcache implements the per-network Block-number Cache of §3,
// used only for the eth_call block-tag normalization of §4.4. It is
// populated out-of-band (see internal/blockwarm); the request pipeline only
// ever reads it and never blocks waiting for a refresh.
package blockcache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FreshFor is the consistency budget of §4.4: an entry older than this is
// treated as cold and normalization becomes a no-op.
const FreshFor = 30 * time.Second

type entry struct {
	block     uint64
	fetchedAt time.Time
}

// Cache holds one entry per network key.
type Cache struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[string]entry
}

// New constructs an empty Cache. clock defaults to the real clock when nil.
func New(clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{clock: clock, entries: make(map[string]entry)}
}

// Get returns the last known block number for network and whether it is
// still fresh (< FreshFor old). A cold or absent entry reports ok=false.
func (c *Cache) Get(network string) (block uint64, ok bool) {
	c.mu.RLock()
	e, found := c.entries[network]
	c.mu.RUnlock()

	if !found {
		return 0, false
	}
	if c.clock.Now().Sub(e.fetchedAt) >= FreshFor {
		return 0, false
	}
	return e.block, true
}

// Set records the latest known block number for network, timestamped now.
func (c *Cache) Set(network string, block uint64) {
	c.mu.Lock()
	c.entries[network] = entry{block: block, fetchedAt: c.clock.Now()}
	c.mu.Unlock()
}
