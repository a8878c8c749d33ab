package cachestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Cache Store backed by jellydator/ttlcache/v3 for
// expiry and a small side index for the byte-accounting the cleanup manager
// needs (ttlcache does not expose per-item size or last-access time, so
// rpcguard tracks those itself, the same way the teacher's Postgres store
// tracks them with a result_length column and a last_accessed_at column).
type Memory struct {
	cache *ttlcache.Cache[string, Entry]
	clock clockwork.Clock

	mu           sync.Mutex
	lastAccessed map[string]time.Time
	sizes        map[string]int64
	totalSize    int64

	stop chan struct{}
}

// NewMemory constructs a Memory store. clock is injectable so TTL-dependent
// tests can use clockwork.NewFakeClock() instead of sleeping.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cache := ttlcache.New[string, Entry]()

	m := &Memory{
		cache:        cache,
		clock:        clock,
		lastAccessed: make(map[string]time.Time),
		sizes:        make(map[string]int64),
		stop:         make(chan struct{}),
	}

	cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, Entry]) {
		m.mu.Lock()
		defer m.mu.Unlock()
		key := item.Key()
		m.totalSize -= m.sizes[key]
		delete(m.sizes, key)
		delete(m.lastAccessed, key)
	})

	go cache.Start()

	return m
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	item := m.cache.Get(key)
	if item == nil {
		return Entry{}, false, nil
	}
	entry := item.Value()
	if entry.Expired(m.clock.Now()) {
		return Entry{}, false, nil
	}

	m.mu.Lock()
	m.lastAccessed[key] = m.clock.Now()
	m.mu.Unlock()

	return entry, true, nil
}

func (m *Memory) Set(_ context.Context, key string, entry Entry) error {
	ttl := entry.TTL
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}

	m.mu.Lock()
	if old, ok := m.sizes[key]; ok {
		m.totalSize -= old
	}
	size := int64(len(entry.Result))
	m.sizes[key] = size
	m.totalSize += size
	m.lastAccessed[key] = m.clock.Now()
	m.mu.Unlock()

	m.cache.Set(key, entry, ttl)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.cache.DeleteAll()

	m.mu.Lock()
	m.lastAccessed = make(map[string]time.Time)
	m.sizes = make(map[string]int64)
	m.totalSize = 0
	m.mu.Unlock()

	return nil
}

func (m *Memory) Size(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSize, nil
}

func (m *Memory) ItemCount(_ context.Context) (int64, error) {
	return int64(m.cache.Len()), nil
}

type lruCandidate struct {
	key          string
	size         int64
	lastAccessed time.Time
}

// Prune evicts least-recently-accessed entries until bytesToFree has been
// freed, mirroring the running-total eviction the teacher implements in SQL
// (internal/database.PruneCache) but over the in-process index.
func (m *Memory) Prune(_ context.Context, bytesToFree int64) (int64, error) {
	if bytesToFree <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	candidates := make([]lruCandidate, 0, len(m.sizes))
	for key, size := range m.sizes {
		candidates = append(candidates, lruCandidate{key: key, size: size, lastAccessed: m.lastAccessed[key]})
	}
	m.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
	})

	var freed int64
	for _, c := range candidates {
		if freed >= bytesToFree {
			break
		}
		m.cache.Delete(c.key)
		freed += c.size
	}
	return freed, nil
}

func (m *Memory) Close() error {
	m.cache.Stop()
	close(m.stop)
	return nil
}
