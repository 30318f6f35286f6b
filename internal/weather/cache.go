package weather

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marinaops/internal/types"
)

// Entry is a cached lookup result. Missing records a confirmed absence so a
// site without data is not refetched for every task on that day.
type Entry struct {
	Observation *types.WeatherObservation `json:"observation,omitempty"`
	Missing     bool                      `json:"missing,omitempty"`
}

func (e Entry) result() (types.WeatherObservation, error) {
	if e.Missing || e.Observation == nil {
		return types.WeatherObservation{}, ErrNoObservation
	}
	return *e.Observation, nil
}

// Cache stores entries with a TTL.
type Cache interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Set(ctx context.Context, key Key, entry Entry, ttl time.Duration) error
}

type memoryItem struct {
	entry   Entry
	expires time.Time
}

// MemoryCache is a process-local Cache bounded by maxEntries.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[Key]memoryItem
	maxEntries int
	clock      clockwork.Clock
}

// NewMemoryCache creates a MemoryCache. A nil clock uses real time.
func NewMemoryCache(maxEntries int, clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &MemoryCache{
		items:      make(map[Key]memoryItem),
		maxEntries: maxEntries,
		clock:      clock,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !c.clock.Now().Before(item.expires) {
		delete(c.items, key)
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key Key, entry Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.items[key] = memoryItem{entry: entry, expires: now.Add(ttl)}
	return nil
}

// Len returns the number of stored items, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictLocked drops expired items, or the soonest-expiring one if none have
// expired.
func (c *MemoryCache) evictLocked(now time.Time) {
	var (
		oldest    Key
		oldestExp time.Time
		found     bool
	)
	for k, item := range c.items {
		if !now.Before(item.expires) {
			delete(c.items, k)
			continue
		}
		if !found || item.expires.Before(oldestExp) {
			oldest, oldestExp, found = k, item.expires, true
		}
	}
	if len(c.items) >= c.maxEntries && found {
		delete(c.items, oldest)
	}
}
