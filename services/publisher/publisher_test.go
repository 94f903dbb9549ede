package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/flatwatcher/internal/listing"
)

func TestFormatMessage(t *testing.T) {
	l := listing.Listing{
		ID:             "301234567",
		Title:          "2-комнатная квартира, 54,3 м², 7/12 этаж",
		URL:            "https://www.cian.ru/sale/flat/301234567/",
		Price:          "25 000 000 ₽",
		Address:        "Москва, ЦАО, Арбат",
		TransitStation: "Арбатская",
		Floor:          "7/12",
		Area:           "54,3 м²",
		Rooms:          listing.TwoRooms,
		IsOwnerListed:  true,
	}

	msg := FormatMessage(l)
	assert.Contains(t, msg, "💰 Цена: 25 000 000 ₽")
	assert.Contains(t, msg, "🚇 Метро: Арбатская")
	assert.Contains(t, msg, "🛏 Комнат: 2-комнатная")
	assert.Contains(t, msg, "👤 Собственник")
	assert.Contains(t, msg, "[Ссылка](https://www.cian.ru/sale/flat/301234567/)")

	l.IsOwnerListed = false
	assert.Contains(t, FormatMessage(l), "👤 Агент")
}

func TestNewNotificationCapsPhotos(t *testing.T) {
	l := listing.Listing{ID: "1", PhotoURLs: []string{"a", "b", "c", "d"}}
	n := NewNotification(5, l)
	assert.Equal(t, []string{"a", "b", "c"}, n.Photos)
	assert.Len(t, n.Listing.PhotoURLs, 4)
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	ledger := NewMemoryLedger(time.Hour)
	ledger.now = func() time.Time { return now }

	ok, err := ledger.Claim(ctx, 1, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = ledger.Claim(ctx, 1, "a")
	assert.False(t, ok)

	ok, _ = ledger.Claim(ctx, 2, "a")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	ok, _ = ledger.Claim(ctx, 1, "a")
	assert.True(t, ok, "expired claims can be taken again")

	require.NoError(t, ledger.Release(ctx, 1, "a"))
	ok, _ = ledger.Claim(ctx, 1, "a")
	assert.True(t, ok)
}

func TestMemoryLedgerPrunesExpiredClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	ledger := NewMemoryLedger(time.Hour)
	ledger.now = func() time.Time { return now }

	ledger.Claim(ctx, 1, "a")
	ledger.Claim(ctx, 1, "b")
	now = now.Add(30 * time.Minute)
	ledger.Claim(ctx, 1, "c")
	assert.Len(t, ledger.claims, 3)

	// the next claim past the ttl sweeps a and b
	now = now.Add(40 * time.Minute)
	ok, err := ledger.Claim(ctx, 1, "d")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, ledger.claims, 2)

	now = now.Add(time.Hour)
	assert.Equal(t, 2, ledger.Prune())
	assert.Empty(t, ledger.claims)
}

func TestMemoryLedgerEvictsOldestPastLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	ledger := NewMemoryLedger(0)
	ledger.max = 3
	ledger.now = func() time.Time { return now }

	for _, id := range []string{"1", "2", "3", "4"} {
		ok, err := ledger.Claim(ctx, 7, id)
		require.NoError(t, err)
		assert.True(t, ok)
		now = now.Add(time.Second)
	}
	assert.Len(t, ledger.claims, 3)

	ok, _ := ledger.Claim(ctx, 7, "4")
	assert.False(t, ok)
	ok, _ = ledger.Claim(ctx, 7, "1")
	assert.True(t, ok, "the oldest claim was evicted")
	assert.Equal(t, 0, ledger.Prune(), "claims without a ttl never expire")
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier()
	assert.NoError(t, n.Notify(context.Background(), 1, listing.Listing{ID: "1"}))
	assert.NoError(t, n.TrimStreams(context.Background()))
	assert.NoError(t, n.Close())
}

var (
	_ Notifier       = (*RedisNotifier)(nil)
	_ Notifier       = (*LogNotifier)(nil)
	_ DeliveryLedger = (*RedisLedger)(nil)
	_ DeliveryLedger = (*MemoryLedger)(nil)
)
