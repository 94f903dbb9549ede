package crawler

import (
	"context"
	"time"

	"sjsage522/flatwatcher/internal/filter"
	"sjsage522/flatwatcher/internal/listing"
	"sjsage522/flatwatcher/logger"
	"sjsage522/flatwatcher/services/cache"
)

// Crawler ties query building, retrieval, extraction, caching and
// district resolution together.
type Crawler struct {
	fetcher   Fetcher
	extractor *Extractor
	queries   *QueryBuilder
	results   *cache.ResultCache
	resolver  Resolver
	log       *logger.Logger
}

// New creates a crawler. resolver may be nil.
func New(fetcher Fetcher, extractor *Extractor, queries *QueryBuilder, results *cache.ResultCache, resolver Resolver) *Crawler {
	return &Crawler{
		fetcher:   fetcher,
		extractor: extractor,
		queries:   queries,
		results:   results,
		resolver:  resolver,
		log:       logger.ForCrawler(fetcher.Mode()),
	}
}

// FetchListings returns the newest listings for f, newest first. A failed
// retrieval yields an empty result and the error for logging; nothing is cached then.
func (c *Crawler) FetchListings(ctx context.Context, f filter.Filter) ([]listing.Listing, error) {
	key := f.Key()
	if cached, ok := c.results.Get(key); ok {
		c.log.Debug().Str("fingerprint", f.Fingerprint()).Int("listings", len(cached)).Msg("Using cached results")
		return cached, nil
	}

	pageURL, err := c.queries.Build(f)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		c.log.Error().Err(err).Str("url", pageURL).Msg("Failed to retrieve results page")
		return nil, err
	}

	opts := BasicOptions()
	opts.Constraints = &f
	page := c.extractor.ExtractPage(body, opts)
	listings := c.resolveDistricts(ctx, page.Listings)

	c.log.Info().
		Str("fingerprint", f.Fingerprint()).
		Str("strategy", page.Strategy).
		Int("cards", page.Cards).
		Int("listings", len(listings)).
		Int("skipped", page.Skipped).
		Int("failed", page.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("Results page extracted")

	if page.Strategy != "" {
		c.results.Put(key, listings)
	}
	return listings, nil
}

// Sweep fetches the newest listings regardless of filters and keeps those
// near one of stations (all of them when stations is empty). Results are not cached.
func (c *Crawler) Sweep(ctx context.Context, stations []string, ownerOnly bool) ([]listing.Listing, error) {
	pageURL, err := c.queries.Build(filter.Filter{OwnerOnly: ownerOnly})
	if err != nil {
		return nil, err
	}

	body, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		c.log.Error().Err(err).Str("url", pageURL).Msg("Failed to retrieve sweep page")
		return nil, err
	}

	opts := SweepOptions()
	opts.Stations = stations
	page := c.extractor.ExtractPage(body, opts)

	c.log.Info().
		Strs("stations", stations).
		Str("strategy", page.Strategy).
		Int("listings", len(page.Listings)).
		Msg("Sweep extracted")

	return page.Listings, nil
}

// resolveDistricts asks the resolver once per listing.
func (c *Crawler) resolveDistricts(ctx context.Context, in []listing.Listing) []listing.Listing {
	if c.resolver == nil || len(in) == 0 {
		return in
	}

	out := make([]listing.Listing, len(in))
	for i, l := range in {
		out[i] = l
		if l.Address == listing.Unspecified {
			continue
		}
		if district, ok := c.resolver.Resolve(ctx, l.Address); ok {
			out[i] = l.WithDistrict(district)
		}
	}
	return out
}

// Mode reports the retrieval mode in use.
func (c *Crawler) Mode() string {
	return c.fetcher.Mode()
}

// CachedQueries counts live result cache entries.
func (c *Crawler) CachedQueries() int {
	return c.results.Len()
}

// PurgeExpired drops stale result cache entries.
func (c *Crawler) PurgeExpired() int {
	removed := c.results.Purge()
	if removed > 0 {
		c.log.Debug().Int("removed", removed).Int("live", c.results.Len()).Msg("Purged expired results")
	}
	return removed
}
