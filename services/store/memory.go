package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sjsage522/flatwatcher/internal/filter"
)

type memoryRecord struct {
	sub      Subscriber
	lastSeen string
}

// MemoryStore is an in-process AccountStore for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*memoryRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*memoryRecord)}
}

// Put inserts or replaces a subscriber.
func (m *MemoryStore) Put(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[sub.ID]; ok {
		rec.sub = sub
		return
	}
	m.records[sub.ID] = &memoryRecord{sub: sub}
}

// ListActiveSubscribers implements SubscriberStore.
func (m *MemoryStore) ListActiveSubscribers(ctx context.Context, now time.Time) ([]Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Subscriber
	for _, rec := range m.records {
		if rec.sub.Active(now) {
			out = append(out, rec.sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLastSeenID implements SubscriberStore.
func (m *MemoryStore) GetLastSeenID(ctx context.Context, subscriberID int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[subscriberID]
	if !ok || rec.lastSeen == "" {
		return "", false, nil
	}
	return rec.lastSeen, true, nil
}

// SetLastSeenID implements SubscriberStore.
func (m *MemoryStore) SetLastSeenID(ctx context.Context, subscriberID int64, listingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[subscriberID]
	if !ok {
		return fmt.Errorf("subscriber %d not found", subscriberID)
	}
	rec.lastSeen = listingID
	return nil
}

// SaveFilter implements AccountStore.
func (m *MemoryStore) SaveFilter(ctx context.Context, subscriberID int64, f filter.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[subscriberID]
	if !ok {
		rec = &memoryRecord{sub: Subscriber{ID: subscriberID}}
		m.records[subscriberID] = rec
	}
	rec.sub.Filter = f
	return nil
}

// ActivateSubscription implements AccountStore.
func (m *MemoryStore) ActivateSubscription(ctx context.Context, subscriberID int64, until time.Time, plan string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[subscriberID]
	if !ok {
		rec = &memoryRecord{sub: Subscriber{ID: subscriberID}}
		m.records[subscriberID] = rec
	}
	rec.sub.SubscribedUntil = until
	if plan != "" {
		rec.sub.Plan = plan
	}
	return nil
}

// Stats implements AccountStore.
func (m *MemoryStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Total: len(m.records)}
	for _, rec := range m.records {
		if rec.sub.Active(now) {
			stats.Active++
		}
	}
	return stats, nil
}
