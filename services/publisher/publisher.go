// Package publisher delivers listing notifications to subscribers.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sjsage522/flatwatcher/internal/listing"
)

// Notifier represents a sink that delivers listings to subscribers
type Notifier interface {
	// Notify delivers one listing to one subscriber
	Notify(ctx context.Context, subscriberID int64, l listing.Listing) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams(ctx context.Context) error

	// Close closes the notifier connection
	Close() error
}

// DeliveryLedger records which listings were already delivered to whom.
// Claim returns false when the pair was claimed before and the claim has not expired.
type DeliveryLedger interface {
	Claim(ctx context.Context, subscriberID int64, listingID string) (bool, error)
	Release(ctx context.Context, subscriberID int64, listingID string) error
}

// Notification is the payload put on the stream.
type Notification struct {
	SubscriberID int64           `json:"subscriber_id"`
	Listing      listing.Listing `json:"listing"`
	Text         string          `json:"text"`
	Photos       []string        `json:"photos,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewNotification builds the payload for l.
func NewNotification(subscriberID int64, l listing.Listing) Notification {
	photos := l.PhotoURLs
	if len(photos) > 3 {
		photos = photos[:3]
	}
	return Notification{
		SubscriberID: subscriberID,
		Listing:      l,
		Text:         FormatMessage(l),
		Photos:       photos,
		CreatedAt:    time.Now(),
	}
}

// FormatMessage renders the chat message text for a listing.
func FormatMessage(l listing.Listing) string {
	owner := "Агент"
	if l.IsOwnerListed {
		owner = "Собственник"
	}

	var b strings.Builder
	b.WriteString("🔵 *Новое объявление*\n")
	b.WriteString(l.Title + "\n")
	fmt.Fprintf(&b, "💰 Цена: %s\n", l.Price)
	fmt.Fprintf(&b, "📍 Адрес: %s\n", l.Address)
	fmt.Fprintf(&b, "🚇 Метро: %s\n", l.TransitStation)
	fmt.Fprintf(&b, "🏢 Этаж: %s\n", l.Floor)
	fmt.Fprintf(&b, "📏 Площадь: %s\n", l.Area)
	fmt.Fprintf(&b, "🛏 Комнат: %s\n", l.Rooms)
	fmt.Fprintf(&b, "👤 %s\n", owner)
	fmt.Fprintf(&b, "[Ссылка](%s)", l.URL)
	return b.String()
}
