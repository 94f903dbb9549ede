package publisher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"sjsage522/flatwatcher/internal/listing"
	"sjsage522/flatwatcher/logger"
)

// LogNotifier writes notifications to the log. It is used when Redis is not configured.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.ForPublisher()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, subscriberID int64, l listing.Listing) error {
	n.log.Info().
		Int64("subscriber", subscriberID).
		Str("listing", l.ID).
		Str("url", l.URL).
		Msg("Notification")
	return nil
}

// TrimStreams implements Notifier.
func (n *LogNotifier) TrimStreams(ctx context.Context) error { return nil }

// Close implements Notifier.
func (n *LogNotifier) Close() error { return nil }

// MemoryLedger is an in-process DeliveryLedger.
type MemoryLedger struct {
	mu        sync.Mutex
	ttl       time.Duration
	max       int
	claims    map[string]time.Time
	lastPrune time.Time
	now       func() time.Time
}

// maxMemoryClaims bounds the ledger; past it the oldest claim gives way.
const maxMemoryClaims = 50000

// NewMemoryLedger creates a ledger whose claims expire after ttl. A zero ttl never expires.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		ttl:    ttl,
		max:    maxMemoryClaims,
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func ledgerKey(subscriberID int64, listingID string) string {
	return strconv.FormatInt(subscriberID, 10) + ":" + listingID
}

// Claim implements DeliveryLedger. Expired claims are swept at most once per ttl.
func (m *MemoryLedger) Claim(ctx context.Context, subscriberID int64, listingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.ttl > 0 && now.Sub(m.lastPrune) >= m.ttl {
		m.prune(now)
	}

	key := ledgerKey(subscriberID, listingID)
	if at, ok := m.claims[key]; ok && (m.ttl <= 0 || now.Sub(at) < m.ttl) {
		return false, nil
	}
	if _, ok := m.claims[key]; !ok && m.max > 0 && len(m.claims) >= m.max {
		m.evictOldest()
	}
	m.claims[key] = now
	return true, nil
}

// Prune drops expired claims and returns how many were removed.
func (m *MemoryLedger) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prune(m.now())
}

func (m *MemoryLedger) prune(now time.Time) int {
	m.lastPrune = now
	if m.ttl <= 0 {
		return 0
	}
	removed := 0
	for key, at := range m.claims {
		if now.Sub(at) >= m.ttl {
			delete(m.claims, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryLedger) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, at := range m.claims {
		if oldestKey == "" || at.Before(oldest) {
			oldestKey, oldest = key, at
		}
	}
	delete(m.claims, oldestKey)
}

// Release implements DeliveryLedger.
func (m *MemoryLedger) Release(ctx context.Context, subscriberID int64, listingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.claims, ledgerKey(subscriberID, listingID))
	return nil
}
