// Package geocoder resolves free-form addresses to administrative districts.
package geocoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"sjsage522/flatwatcher/internal/geo"
	"sjsage522/flatwatcher/logger"
	apperrors "sjsage522/flatwatcher/pkg/errors"
)

// DefaultEndpoint is the DaData address cleaning API.
const DefaultEndpoint = "https://dadata.ru/api/v2/clean/address"

const okrugAreaType = "округ"

// defaultMemoSize caps remembered addresses; a full memo starts over.
const defaultMemoSize = 10000

type cleanResult struct {
	Area     string `json:"area"`
	AreaType string `json:"area_type"`
}

// DaDataResolver maps addresses to districts through the DaData clean API.
type DaDataResolver struct {
	endpoint string
	apiKey   string
	secret   string
	client   *http.Client
	catalog  *geo.Catalog
	log      *logger.Logger

	mu       sync.Mutex
	memo     map[string]string
	memoSize int
}

// NewDaDataResolver creates a resolver. It returns nil when apiKey is empty,
// which callers treat as "no resolver configured".
func NewDaDataResolver(apiKey, secret string, catalog *geo.Catalog) *DaDataResolver {
	if apiKey == "" {
		return nil
	}
	if catalog == nil {
		catalog = geo.Default()
	}
	return &DaDataResolver{
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		secret:   secret,
		client:   &http.Client{Timeout: 5 * time.Second},
		catalog:  catalog,
		log:      logger.ForCrawler("geocoder"),
		memo:     make(map[string]string),
		memoSize: defaultMemoSize,
	}
}

// WithEndpoint points the resolver at another URL.
func (r *DaDataResolver) WithEndpoint(endpoint string) *DaDataResolver {
	r.endpoint = endpoint
	return r
}

// Resolve returns the short district code for address. Failures are logged
// and reported as unresolved.
func (r *DaDataResolver) Resolve(ctx context.Context, address string) (string, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", false
	}

	r.mu.Lock()
	code, cached := r.memo[address]
	r.mu.Unlock()
	if cached {
		return code, code != ""
	}

	code, err := r.lookup(ctx, address)
	if err != nil {
		r.log.Warn().Err(err).Str("address", address).Msg("Address resolution failed")
		return "", false
	}

	r.mu.Lock()
	if len(r.memo) >= r.memoSize {
		r.log.Debug().Int("entries", len(r.memo)).Msg("Address memo full, starting over")
		r.memo = make(map[string]string)
	}
	r.memo[address] = code
	r.mu.Unlock()

	return code, code != ""
}

func (r *DaDataResolver) lookup(ctx context.Context, address string) (string, error) {
	payload, err := json.Marshal([]string{address})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.NewNetwork("geocoder", "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+r.apiKey)
	if r.secret != "" {
		req.Header.Set("X-Secret", r.secret)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", apperrors.NewNetwork("geocoder", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewNetwork("geocoder", fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	var results []cleanResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", apperrors.NewParsing("geocoder", "failed to decode response", err)
	}
	if len(results) == 0 {
		return "", nil
	}

	result := results[0]
	if result.AreaType != okrugAreaType || result.Area == "" {
		return "", nil
	}
	d, ok := r.catalog.DistrictByName(result.Area)
	if !ok {
		return "", nil
	}
	return d.Code, nil
}
