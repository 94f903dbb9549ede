package publisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/flatwatcher/internal/listing"
)

// These tests require a running Redis instance on localhost:6379
// If Redis is not available, the tests will be skipped
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client, err := NewRedisClient(context.Background(), "localhost:6379", 0)
	if err != nil {
		t.Skip("Redis is not available, skipping test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisNotifier(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	notifier := NewRedisNotifier(client, "test_flats", 4, 2)
	for i := 0; i < 4; i++ {
		client.Del(ctx, "test_flats:"+string(rune('0'+i)))
	}

	l := listing.Listing{
		ID:    "301234567",
		Title: "2-комнатная квартира, 54,3 м²",
		URL:   "https://www.cian.ru/sale/flat/301234567/",
		Rooms: listing.TwoRooms,
	}
	require.NoError(t, notifier.Notify(ctx, 42, l))

	stream := notifier.StreamFor(42)
	assert.Equal(t, "test_flats:2", stream)

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := base64.StdEncoding.DecodeString(entries[0].Values[PayloadField].(string))
	require.NoError(t, err)

	var got Notification
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, int64(42), got.SubscriberID)
	assert.Equal(t, "301234567", got.Listing.ID)
	assert.Equal(t, listing.TwoRooms, got.Listing.Rooms)
	assert.Contains(t, got.Text, "Новое объявление")

	for i := 0; i < 3; i++ {
		require.NoError(t, notifier.Notify(ctx, 42, l))
	}
	require.NoError(t, notifier.TrimStreams(ctx))

	n, err := client.XLen(ctx, stream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisLedger(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	ledger := NewRedisLedger(client, "test_flats", time.Minute)
	require.NoError(t, ledger.Release(ctx, 7, "301234567"))

	ok, err := ledger.Claim(ctx, 7, "301234567")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Claim(ctx, 7, "301234567")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ledger.Claim(ctx, 8, "301234567")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ledger.Release(ctx, 7, "301234567"))
	ok, err = ledger.Claim(ctx, 7, "301234567")
	require.NoError(t, err)
	assert.True(t, ok)

	ledger.Release(ctx, 7, "301234567")
	ledger.Release(ctx, 8, "301234567")
}

func TestStreamForIsStable(t *testing.T) {
	notifier := NewRedisNotifier(nil, "flats", 10, 100)
	assert.Equal(t, "flats:3", notifier.StreamFor(13))
	assert.Equal(t, notifier.StreamFor(13), notifier.StreamFor(13))
	assert.Equal(t, "flats:3", notifier.StreamFor(-13))

	single := NewRedisNotifier(nil, "flats", 0, 100)
	assert.Equal(t, "flats:0", single.StreamFor(99))
}
