package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// This test requires a running memcached instance
// If memcached is not available, the test will be skipped
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211")
	if err := mc.Ping(); err != nil {
		t.Skip("Memcached is not available, skipping test")
	}

	err := mc.Set("flatwatcher_test_key", []byte("test_value"), 1*time.Second)
	assert.NoError(t, err)

	value, err := mc.Get("flatwatcher_test_key")
	assert.NoError(t, err)
	assert.Equal(t, "test_value", string(value))

	err = mc.Delete("flatwatcher_test_key")
	assert.NoError(t, err)

	_, err = mc.Get("flatwatcher_test_key")
	assert.ErrorIs(t, err, ErrMiss)

	// deleting a missing key is not an error
	assert.NoError(t, mc.Delete("flatwatcher_test_key"))
}

func TestMemoryService(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryService()
	m.now = func() time.Time { return now }

	_, err := m.Get("block")
	assert.ErrorIs(t, err, ErrMiss)

	assert.NoError(t, m.Set("block", []byte("300"), 5*time.Minute))
	value, err := m.Get("block")
	assert.NoError(t, err)
	assert.Equal(t, "300", string(value))

	now = now.Add(5 * time.Minute)
	_, err = m.Get("block")
	assert.ErrorIs(t, err, ErrMiss)

	assert.NoError(t, m.Set("forever", []byte("x"), 0))
	now = now.Add(24 * time.Hour)
	_, err = m.Get("forever")
	assert.NoError(t, err)

	assert.NoError(t, m.Delete("forever"))
	_, err = m.Get("forever")
	assert.ErrorIs(t, err, ErrMiss)
}

var (
	_ CacheService = (*MemcacheService)(nil)
	_ CacheService = (*MemoryService)(nil)
)
