package crawler

import (
	"fmt"
	"net/url"
	"sort"

	"sjsage522/flatwatcher/internal/filter"
	"sjsage522/flatwatcher/internal/geo"
	"sjsage522/flatwatcher/logger"
)

// QueryBuilder renders search URLs for the results page.
type QueryBuilder struct {
	searchURL string
	catalog   *geo.Catalog
}

// NewQueryBuilder creates a builder for the given search endpoint.
func NewQueryBuilder(searchURL string, catalog *geo.Catalog) *QueryBuilder {
	if catalog == nil {
		catalog = geo.Default()
	}
	return &QueryBuilder{searchURL: searchURL, catalog: catalog}
}

// Build returns the newest-first flat-sale search URL for f.
func (b *QueryBuilder) Build(f filter.Filter) (string, error) {
	u, err := url.Parse(b.searchURL)
	if err != nil {
		return "", fmt.Errorf("invalid search URL %q: %w", b.searchURL, err)
	}

	params := u.Query()
	params.Set("deal_type", "sale")
	params.Set("engine_version", "2")
	params.Set("offer_type", "flat")
	params.Set("region", "1")
	params.Set("only_flat", "1")
	params.Set("sort", "creation_date_desc")
	params.Set("p", "1")
	if f.OwnerOnly {
		params.Set("owner", "1")
	}

	okrugs := make([]int, 0, len(f.Districts))
	for _, code := range f.Districts {
		d, ok := b.catalog.DistrictByCode(code)
		if !ok {
			logger.Debug("Ignoring unknown district %q in query", code)
			continue
		}
		okrugs = append(okrugs, d.Okrug)
	}
	sort.Ints(okrugs)
	for _, id := range okrugs {
		params.Set(fmt.Sprintf("okrug[%d]", id), "1")
	}

	u.RawQuery = params.Encode()
	return u.String(), nil
}
