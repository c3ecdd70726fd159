// Package cache provides a sharded in-memory store for the latest signal
// per instrument, sized for lock-free reads across shards.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"main/internal/schema"
)

const (
	defaultCapacity = 65536
	shardCount      = 32
)

// Config controls cache sizing.
type Config struct {
	// Capacity is the total entry budget across all shards. Must be a
	// power of two.
	Capacity int
}

// DefaultConfig returns a baseline cache configuration.
func DefaultConfig() Config {
	return Config{Capacity: defaultCapacity}
}

func (c Config) withDefaults() Config {
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Capacity <= 0 || c.Capacity&(c.Capacity-1) != 0 {
		return fmt.Errorf("invalid cache config: Capacity must be a power of two, got %d", c.Capacity)
	}
	if c.Capacity < shardCount {
		return fmt.Errorf("invalid cache config: Capacity must be >= %d", shardCount)
	}
	return nil
}

// Stats holds cumulative cache counters.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Insertions uint64
	Evictions  uint64
	Size       int
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]schema.CompactSignal
}

// Cache stores the most recent signal per symbol. Writes are last-write-wins
// and a lookup never blocks on a write to another shard. Each shard holds at
// most Capacity/shardCount entries; inserting a new symbol into a full shard
// evicts the shard's oldest signal.
type Cache struct {
	cfg      Config
	perShard int
	shards   [shardCount]shard

	hits       atomic.Uint64
	misses     atomic.Uint64
	insertions atomic.Uint64
	evictions  atomic.Uint64
	size       atomic.Int64
}

// New creates a cache.
func New(cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{cfg: cfg, perShard: cfg.Capacity / shardCount}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]schema.CompactSignal, c.perShard)
	}
	return c, nil
}

func (c *Cache) shardFor(symbol string) *shard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return &c.shards[h.Sum32()&(shardCount-1)]
}

// Insert stores a signal under its symbol, replacing any previous entry. A
// new symbol landing in a full shard evicts the shard's oldest signal so the
// cache never exceeds its configured capacity.
func (c *Cache) Insert(sig schema.CompactSignal) {
	symbol := sig.Symbol()
	s := c.shardFor(symbol)
	var evicted bool
	s.mu.Lock()
	_, existed := s.entries[symbol]
	if !existed && len(s.entries) >= c.perShard {
		evictOldest(s.entries)
		evicted = true
	}
	s.entries[symbol] = sig
	s.mu.Unlock()

	c.insertions.Add(1)
	if evicted {
		c.evictions.Add(1)
	} else if !existed {
		c.size.Add(1)
	}
}

// evictOldest removes the entry with the smallest publish timestamp. Caller
// holds the shard lock.
func evictOldest(entries map[string]schema.CompactSignal) {
	var oldest string
	var oldestTs uint64
	first := true
	for symbol, sig := range entries {
		if first || sig.PublishTimestampNs < oldestTs {
			oldest = symbol
			oldestTs = sig.PublishTimestampNs
			first = false
		}
	}
	delete(entries, oldest)
}

// Lookup returns a copy of the cached signal for a symbol.
func (c *Cache) Lookup(symbol string) (schema.CompactSignal, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	sig, ok := s.entries[symbol]
	s.mu.RUnlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return sig, ok
}

// EvictExpired removes entries whose TTL has elapsed at nowNs and returns
// the number removed.
func (c *Cache) EvictExpired(nowNs uint64) int {
	var removed int
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for symbol, sig := range s.entries {
			if sig.IsExpired(nowNs) {
				delete(s.entries, symbol)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.evictions.Add(uint64(removed))
		c.size.Add(int64(-removed))
	}
	return removed
}

// Clear removes all entries. Counters are preserved.
func (c *Cache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for symbol := range s.entries {
			delete(s.entries, symbol)
		}
		s.mu.Unlock()
	}
	c.size.Store(0)
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Insertions: c.insertions.Load(),
		Evictions:  c.evictions.Load(),
		Size:       int(c.size.Load()),
	}
}

// HitRatio returns hits over total lookups, or zero before any lookup.
func (c *Cache) HitRatio() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
