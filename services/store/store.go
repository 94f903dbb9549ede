// Package store persists subscribers, their saved filters and watermarks.
package store

import (
	"context"
	"time"

	"sjsage522/flatwatcher/internal/filter"
)

// Subscriber is an account with an active or expired subscription.
type Subscriber struct {
	ID              int64
	Filter          filter.Filter
	SubscribedUntil time.Time
	Plan            string
}

// Active reports whether the subscription is still running at now.
func (s Subscriber) Active(now time.Time) bool {
	return now.Before(s.SubscribedUntil)
}

// Stats summarizes the subscriber base.
type Stats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// SubscriberStore is what the poll dispatcher needs from persistence.
type SubscriberStore interface {
	// ListActiveSubscribers returns subscribers whose subscription has not expired at now
	ListActiveSubscribers(ctx context.Context, now time.Time) ([]Subscriber, error)

	// GetLastSeenID returns the watermark; ok is false when none was stored yet
	GetLastSeenID(ctx context.Context, subscriberID int64) (id string, ok bool, err error)

	// SetLastSeenID advances the watermark
	SetLastSeenID(ctx context.Context, subscriberID int64, listingID string) error
}

// AccountStore covers account management around the dispatcher.
type AccountStore interface {
	SubscriberStore
	SaveFilter(ctx context.Context, subscriberID int64, f filter.Filter) error
	ActivateSubscription(ctx context.Context, subscriberID int64, until time.Time, plan string) error
	Stats(ctx context.Context, now time.Time) (Stats, error)
}
