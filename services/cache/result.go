package cache

import (
	"sync"
	"time"

	"sjsage522/flatwatcher/internal/listing"
	"sjsage522/flatwatcher/logger"
)

// DefaultResultTTL is how long extracted results are reused.
const DefaultResultTTL = 300 * time.Second

type resultEntry struct {
	listings  []listing.Listing
	expiresAt time.Time
}

// ResultCache keeps recent extraction results keyed by query fingerprint.
// Entries are usable only while now is before their expiry; concurrent
// writers to the same key resolve last write wins.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]resultEntry
	ttl     time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// NewResultCache creates a cache with the given TTL.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{
		entries: make(map[string]resultEntry),
		ttl:     ttl,
		now:     time.Now,
		log:     logger.ForCache(),
	}
}

// WithClock overrides the time source.
func (c *ResultCache) WithClock(now func() time.Time) *ResultCache {
	c.now = now
	return c
}

// Get returns a copy of the cached listings for key.
func (c *ResultCache) Get(key string) ([]listing.Listing, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		// another writer may have refreshed the key meanwhile
		if current, still := c.entries[key]; still && !c.now().Before(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	c.log.Debug().Str("key", key).Int("listings", len(entry.listings)).Msg("Result cache hit")
	return listing.CloneAll(entry.listings), true
}

// Put stores a copy of listings under key.
func (c *ResultCache) Put(key string, listings []listing.Listing) {
	stored := listing.CloneAll(listings)
	if stored == nil {
		stored = []listing.Listing{}
	}

	c.mu.Lock()
	c.entries[key] = resultEntry{listings: stored, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len counts live entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0
	for _, entry := range c.entries {
		if now.Before(entry.expiresAt) {
			n++
		}
	}
	return n
}

// Purge drops expired entries and returns how many were removed.
func (c *ResultCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// TTL returns the configured lifetime.
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}
