package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/flatwatcher/internal/listing"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache() (*ResultCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	return NewResultCache(300 * time.Second).WithClock(clock.Now), clock
}

func TestResultCacheHitAndMiss(t *testing.T) {
	c, _ := newTestCache()

	_, ok := c.Get("q:1")
	assert.False(t, ok)

	c.Put("q:1", []listing.Listing{{ID: "1"}, {ID: "2"}})
	got, ok := c.Get("q:1")
	require.True(t, ok)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, c.Len())
}

func TestResultCacheRespectsTTL(t *testing.T) {
	c, clock := newTestCache()
	c.Put("q:1", []listing.Listing{{ID: "1"}})

	clock.Advance(299 * time.Second)
	_, ok := c.Get("q:1")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("q:1")
	assert.False(t, ok, "entry must be absent once now reaches expiry")
	assert.Equal(t, 0, c.Len())
}

func TestResultCacheEmptyResultIsAHit(t *testing.T) {
	c, _ := newTestCache()
	c.Put("q:empty", nil)

	got, ok := c.Get("q:empty")
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestResultCacheCopiesListings(t *testing.T) {
	c, _ := newTestCache()
	in := []listing.Listing{{ID: "1", PhotoURLs: []string{"a"}}}
	c.Put("q:1", in)

	in[0].ID = "mutated"
	got, _ := c.Get("q:1")
	assert.Equal(t, "1", got[0].ID)

	got[0].PhotoURLs[0] = "b"
	again, _ := c.Get("q:1")
	assert.Equal(t, "a", again[0].PhotoURLs[0])
}

func TestResultCacheLastWriteWins(t *testing.T) {
	c, _ := newTestCache()
	c.Put("q:1", []listing.Listing{{ID: "old"}})
	c.Put("q:1", []listing.Listing{{ID: "new"}})

	got, ok := c.Get("q:1")
	require.True(t, ok)
	assert.Equal(t, "new", got[0].ID)
}

func TestResultCachePurge(t *testing.T) {
	c, clock := newTestCache()
	c.Put("q:old", nil)
	clock.Advance(200 * time.Second)
	c.Put("q:new", nil)
	clock.Advance(150 * time.Second)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func TestResultCacheConcurrentAccess(t *testing.T) {
	c, _ := newTestCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("q:%d", i%4)
			c.Put(key, []listing.Listing{{ID: fmt.Sprint(i)}})
			c.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, c.Len())
}

func TestNewResultCacheDefaultsTTL(t *testing.T) {
	assert.Equal(t, DefaultResultTTL, NewResultCache(0).TTL())
}
