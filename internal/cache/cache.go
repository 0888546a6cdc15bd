// Package cache implements a TTL key/value store with three independent
// classes (raw API pages, processed records, generated content), backed by
// durable local SQLite storage.
package cache

import (
	"log/slog"
	"sync"
	"time"
)

// Class namespaces cache entries by data kind, each with its own TTL
type Class string

const (
	// ClassRawAPI holds raw upstream API pages
	ClassRawAPI Class = "raw-api"
	// ClassProcessed holds assembled aggregation records
	ClassProcessed Class = "processed"
	// ClassGenerated holds validated LLM output
	ClassGenerated Class = "generated"
)

// Classes lists all cache classes
var Classes = []Class{ClassRawAPI, ClassProcessed, ClassGenerated}

// ParseClass converts a string to a Class
func ParseClass(s string) (Class, bool) {
	switch Class(s) {
	case ClassRawAPI, ClassProcessed, ClassGenerated:
		return Class(s), true
	default:
		return "", false
	}
}

// TTLs maps each class to its entry lifetime
type TTLs map[Class]time.Duration

// DefaultTTLs reflect how quickly each data class goes stale: upstream PR
// data changes slowly, and generated content is the most expensive to
// recompute and safest to reuse longest.
func DefaultTTLs() TTLs {
	return TTLs{
		ClassRawAPI:    30 * time.Minute,
		ClassProcessed: 60 * time.Minute,
		ClassGenerated: 120 * time.Minute,
	}
}

// ClassStats reports hit/miss counters for one class
type ClassStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int64 `json:"entries"`
}

// HitRatio returns hits / (hits + misses), or 0 when there were no lookups
func (s ClassStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats is a snapshot of counters across all classes
type Stats map[Class]ClassStats

// Cache enforces TTLs at read time over a durable Store. A present but
// expired entry is treated identically to a miss and removed lazily.
type Cache struct {
	store *Store
	ttls  TTLs
	now   func() time.Time

	mu     sync.Mutex
	hits   map[Class]int64
	misses map[Class]int64
}

// Option configures the cache
type Option func(*Cache)

// WithTTLs overrides the default per-class TTLs
func WithTTLs(ttls TTLs) Option {
	return func(c *Cache) {
		for class, ttl := range ttls {
			if ttl > 0 {
				c.ttls[class] = ttl
			}
		}
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache over the given store
func New(store *Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttls:   DefaultTTLs(),
		now:    time.Now,
		hits:   make(map[Class]int64),
		misses: make(map[Class]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the fresh value for (class, key), or (nil, false) on a miss.
// Expired entries are logically absent and deleted on the way out.
func (c *Cache) Get(class Class, key string) ([]byte, bool) {
	record, err := c.store.Get(class, key)
	if err != nil {
		slog.Warn("Cache read error", "class", class, "error", err)
		c.recordMiss(class)
		return nil, false
	}
	if record == nil {
		c.recordMiss(class)
		return nil, false
	}

	if c.now().Sub(record.CreatedAt) >= record.TTL {
		// Lazy removal; the sweep catches anything a lookup never touches
		if err := c.store.Delete(class, key); err != nil {
			slog.Warn("Cache expiry delete failed", "class", class, "error", err)
		}
		c.recordMiss(class)
		return nil, false
	}

	c.recordHit(class)
	return record.Value, true
}

// Put stores value under (class, key). A non-positive ttl uses the class default.
func (c *Cache) Put(class Class, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttls[class]
	}
	return c.store.Put(class, key, value, c.now(), ttl)
}

// Invalidate removes a single entry
func (c *Cache) Invalidate(class Class, key string) error {
	return c.store.Delete(class, key)
}

// Clear removes all entries in a class
func (c *Cache) Clear(class Class) error {
	return c.store.DeleteClass(class)
}

// ClearAll removes every entry
func (c *Cache) ClearAll() error {
	return c.store.DeleteAll()
}

// Sweep removes all expired entries, returning how many were deleted
func (c *Cache) Sweep() (int64, error) {
	return c.store.DeleteExpired(c.now())
}

// Stats returns a snapshot of hit/miss counters and entry counts per class
func (c *Cache) Stats() Stats {
	counts, err := c.store.CountByClass()
	if err != nil {
		slog.Warn("Cache count error", "error", err)
		counts = map[Class]int64{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(Stats, len(Classes))
	for _, class := range Classes {
		stats[class] = ClassStats{
			Hits:    c.hits[class],
			Misses:  c.misses[class],
			Entries: counts[class],
		}
	}
	return stats
}

// Ping verifies the backing store is reachable
func (c *Cache) Ping() error {
	return c.store.Ping()
}

// Close closes the backing store
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) recordHit(class Class) {
	c.mu.Lock()
	c.hits[class]++
	c.mu.Unlock()
}

func (c *Cache) recordMiss(class Class) {
	c.mu.Lock()
	c.misses[class]++
	c.mu.Unlock()
}
