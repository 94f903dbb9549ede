package crawler

import (
	"context"

	"sjsage522/flatwatcher/internal/filter"
	"sjsage522/flatwatcher/internal/listing"
)

// Fetcher retrieves the raw HTML of one search page.
type Fetcher interface {
	// Fetch returns the page body decoded to UTF-8
	Fetch(ctx context.Context, pageURL string) (string, error)

	// Mode names the retrieval strategy for logging
	Mode() string

	// Close releases any session held by the fetcher
	Close() error
}

// Resolver maps a free-form address to a short district code.
type Resolver interface {
	Resolve(ctx context.Context, address string) (string, bool)
}

// CardStrategy is one way of locating ad cards on a results page.
type CardStrategy struct {
	Name     string
	Selector string
}

// DefaultCardStrategies is tried in order; the first one with a match wins.
var DefaultCardStrategies = []CardStrategy{
	{Name: "card-component", Selector: `article[data-name="CardComponent"]`},
	{Name: "hashed-card-class", Selector: `div[class*="--card--"]`},
	{Name: "offer-card-testid", Selector: `div[data-testid="offer-card"]`},
	{Name: "offer-card-article", Selector: `article[class*="offer-card"]`},
	{Name: "offer-card-div", Selector: `div[class*="offer-card"]`},
}

// ExtractOptions bounds and constrains one extraction pass.
type ExtractOptions struct {
	// MaxCards caps the number of cards inspected per page
	MaxCards int
	// MaxPhotos caps the photo list of every listing
	MaxPhotos int
	// Constraints drops cards that cannot satisfy the filter while parsing
	Constraints *filter.Filter
	// Stations keeps only cards near one of these stations
	Stations []string
}

// BasicOptions is used for per-subscriber polling.
func BasicOptions() ExtractOptions {
	return ExtractOptions{MaxCards: 10, MaxPhotos: 3}
}

// SweepOptions is used for the unfiltered daily sweep.
func SweepOptions() ExtractOptions {
	return ExtractOptions{MaxCards: 20, MaxPhotos: 10}
}

// PageResult describes one extraction pass.
type PageResult struct {
	Listings []listing.Listing
	Strategy string
	Cards    int
	Skipped  int
	Failed   int
}
