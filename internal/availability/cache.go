package availability

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hackgods/clinic-availability-engine/internal/interval"
)

type cacheKey struct {
	PractitionerID uuid.UUID
	Buffer         time.Duration
	Start          int64
	End            int64
}

type cacheEntry struct {
	generation uint64
	windows    []interval.Interval
}

// Cache is a bounded, time-boxed store of computed free windows. Each
// practitioner has a generation counter bumped on every write; entries computed
// under an older generation are treated as misses, so a read racing with an
// invalidation can never resurrect stale windows.
type Cache struct {
	lru *expirable.LRU[cacheKey, cacheEntry]

	mu          sync.Mutex
	generations map[uuid.UUID]uint64
}

// NewCache returns nil when size is not positive; a nil *Cache never hits.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		return nil
	}
	return &Cache{
		lru:         expirable.NewLRU[cacheKey, cacheEntry](size, nil, ttl),
		generations: map[uuid.UUID]uint64{},
	}
}

func keyFor(practitionerID uuid.UUID, buffer time.Duration, window interval.Interval) cacheKey {
	return cacheKey{
		PractitionerID: practitionerID,
		Buffer:         buffer,
		Start:          window.Start.UnixNano(),
		End:            window.End.UnixNano(),
	}
}

// Generation returns the current generation for a practitioner. Callers read it
// before loading so Put can detect an invalidation that happened meanwhile.
func (c *Cache) Generation(practitionerID uuid.UUID) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[practitionerID]
}

func (c *Cache) Get(practitionerID uuid.UUID, buffer time.Duration, window interval.Interval) ([]interval.Interval, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.lru.Get(keyFor(practitionerID, buffer, window))
	if !ok || entry.generation != c.Generation(practitionerID) {
		return nil, false
	}
	return append([]interval.Interval(nil), entry.windows...), true
}

func (c *Cache) Put(practitionerID uuid.UUID, buffer time.Duration, window interval.Interval, generation uint64, windows []interval.Interval) {
	if c == nil || generation != c.Generation(practitionerID) {
		return
	}
	c.lru.Add(keyFor(practitionerID, buffer, window), cacheEntry{
		generation: generation,
		windows:    append([]interval.Interval(nil), windows...),
	})
}

// Invalidate drops every cached window of a practitioner.
func (c *Cache) Invalidate(practitionerID uuid.UUID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generations[practitionerID]++
	c.mu.Unlock()

	for _, k := range c.lru.Keys() {
		if k.PractitionerID == practitionerID {
			c.lru.Remove(k)
		}
	}
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
