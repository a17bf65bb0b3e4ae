package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zombor/pricescan/internal/receipt"
)

const (
	// MemoryTTL and MemoryCapacity are the memory-only defaults
	MemoryTTL      = 2 * time.Hour
	MemoryCapacity = 50

	// PersistentTTL and PersistentCapacity are the persistent defaults
	PersistentTTL      = 7 * 24 * time.Hour
	PersistentCapacity = 100
)

// Item is one cached pipeline result
type Item struct {
	Key          string             `json:"key"`
	Result       *receipt.OCRResult `json:"result"`
	CreatedAt    time.Time          `json:"created_at"`
	LastAccessed time.Time          `json:"last_accessed"`
	ExpiresAt    time.Time          `json:"expires_at,omitempty"`
}

func (e *Item) expired(now time.Time, ttl time.Duration) bool {
	if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
		return true
	}
	return ttl > 0 && now.Sub(e.CreatedAt) >= ttl
}

// Store defines the interface for result cache operations
type Store interface {
	// Get returns the cached result for key, or false on a miss or expiry
	Get(key string) (*receipt.OCRResult, bool)

	// Put inserts or replaces the result for key and enforces capacity
	Put(key string, result *receipt.OCRResult) error

	// Clear removes every entry
	Clear() error

	// ClearExpired removes expired entries and reports how many were removed
	ClearExpired() (int, error)

	// Len returns the number of live entries
	Len() int

	// Close releases any backing resources
	Close() error
}

// Backend persists the entry index. Save receives the complete index after
// every mutation.
type Backend interface {
	Load() ([]*Item, error)
	Save(entries []*Item) error
	Close() error
}

// Options configures a Cache
type Options struct {
	TTL      time.Duration
	Capacity int
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Cache is an LRU, TTL-bounded result store with an in-memory mirror and an
// optional persistent backend
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*Item
	ttl      time.Duration
	capacity int
	now      func() time.Time
	backend  Backend
}

var _ Store = (*Cache)(nil)

// NewMemory creates a memory-only cache
func NewMemory(opts Options) *Cache {
	if opts.TTL == 0 {
		opts.TTL = MemoryTTL
	}
	if opts.Capacity == 0 {
		opts.Capacity = MemoryCapacity
	}
	return newCache(opts, nil)
}

// NewWithBackend creates a cache mirrored to backend, loading existing entries
func NewWithBackend(backend Backend, opts Options) (*Cache, error) {
	if opts.TTL == 0 {
		opts.TTL = PersistentTTL
	}
	if opts.Capacity == 0 {
		opts.Capacity = PersistentCapacity
	}
	c := newCache(opts, backend)

	loaded, err := backend.Load()
	if err != nil {
		return nil, err
	}
	now := c.now()
	stale := 0
	for _, e := range loaded {
		if e.expired(now, c.ttl) {
			stale++
			continue
		}
		c.entries[e.Key] = e
	}
	evicted := c.enforceCapacity()
	if stale > 0 || evicted > 0 {
		if err := c.persist(); err != nil {
			return nil, err
		}
	}

	slog.Debug("Cache loaded", "entries", len(c.entries), "expired", stale, "evicted", evicted)
	return c, nil
}

func newCache(opts Options, backend Backend) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries:  make(map[string]*Item),
		ttl:      opts.TTL,
		capacity: opts.Capacity,
		now:      now,
		backend:  backend,
	}
}

// Get returns a copy of the cached result. Expired entries are evicted
// lazily and a hit refreshes the entry's access time.
func (c *Cache) Get(key string) (*receipt.OCRResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if e.expired(now, c.ttl) {
		delete(c.entries, key)
		c.persistLogged()
		return nil, false
	}

	e.LastAccessed = now
	c.persistLogged()
	return e.Result.Clone(), true
}

// Put stores a copy of result under key, replacing any previous result
func (c *Cache) Put(key string, result *receipt.OCRResult) error {
	if result == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A replaced result is a fresh write and starts a new TTL
	now := c.now()
	e := &Item{
		Key:          key,
		Result:       result.Clone(),
		CreatedAt:    now,
		LastAccessed: now,
	}
	if c.ttl > 0 {
		e.ExpiresAt = now.Add(c.ttl)
	}
	c.entries[key] = e
	if n := c.enforceCapacity(); n > 0 {
		slog.Debug("Cache evicted entries", "count", n, "capacity", c.capacity)
	}
	return c.persist()
}

// Clear removes every entry
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Item)
	return c.persist()
}

// ClearExpired removes every expired entry
func (c *Cache) ClearExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now, c.ttl) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.persist()
}

// Len returns the number of entries, including expired ones not yet evicted
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes the backend
func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

// enforceCapacity evicts least-recently-accessed entries until the cache is
// at or under capacity. Callers hold mu.
func (c *Cache) enforceCapacity() int {
	if c.capacity <= 0 || len(c.entries) <= c.capacity {
		return 0
	}
	ordered := c.sorted()
	excess := len(ordered) - c.capacity
	for _, e := range ordered[:excess] {
		delete(c.entries, e.Key)
	}
	return excess
}

// sorted returns entries from least to most recently accessed
func (c *Cache) sorted() []*Item {
	out := make([]*Item, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].LastAccessed.Before(out[j].LastAccessed)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (c *Cache) persist() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Save(c.sorted())
}

func (c *Cache) persistLogged() {
	if err := c.persist(); err != nil {
		slog.Warn("Failed to persist cache index", "error", err)
	}
}
