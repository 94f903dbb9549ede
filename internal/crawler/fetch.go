package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sjsage522/flatwatcher/helpers"
	"sjsage522/flatwatcher/logger"
	apperrors "sjsage522/flatwatcher/pkg/errors"
	"sjsage522/flatwatcher/services/cache"
)

// BlockCacheKey marks the site as throttling us.
const BlockCacheKey = "cian_rate_limited"

// HTTPConfig configures the direct retriever.
type HTTPConfig struct {
	Retries   int
	Timeout   time.Duration
	BlockTime time.Duration
	// Proxy selects the forward proxy per request; nil means direct
	Proxy func(*http.Request) (*url.URL, error)
}

// HTTPFetcher fetches pages with plain HTTP requests and a rotating browser identity.
type HTTPFetcher struct {
	client    *http.Client
	retries   int
	blockTime time.Duration
	cacheSvc  cache.CacheService
	sleep     func(time.Duration)
	log       *logger.Logger
}

// NewHTTPFetcher creates a direct retriever. cacheSvc may be nil.
func NewHTTPFetcher(cfg HTTPConfig, cacheSvc cache.CacheService) *HTTPFetcher {
	if cfg.Retries < 1 {
		cfg.Retries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 5 * time.Minute
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != nil {
		transport.Proxy = cfg.Proxy
	}

	return &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		retries:   cfg.Retries,
		blockTime: cfg.BlockTime,
		cacheSvc:  cacheSvc,
		sleep:     time.Sleep,
		log:       logger.ForCrawler("http"),
	}
}

// Mode implements Fetcher.
func (f *HTTPFetcher) Mode() string { return "http" }

// Close implements Fetcher.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// Fetch retrieves pageURL, retrying failed attempts with a growing jittered delay.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if f.blocked() {
		return "", apperrors.NewRateLimit("http", f.blockTime)
	}

	var lastErr error
	rateLimited := false

	for attempt := 0; attempt < f.retries; attempt++ {
		body, err := helpers.FetchWithRandomHeaders(ctx, f.client, pageURL)
		if err == nil {
			f.log.Debug().Int("attempt", attempt+1).Int("bytes", len(body)).Msg("Page fetched")
			return body, nil
		}

		lastErr = err
		if helpers.IsRateLimited(err) {
			rateLimited = true
		}
		f.log.Warn().Err(err).Int("attempt", attempt+1).Int("retries", f.retries).Msg("Fetch attempt failed")

		if ctx.Err() != nil {
			break
		}
		if attempt < f.retries-1 {
			f.sleep(retryDelay(attempt))
		}
	}

	if rateLimited {
		f.block()
		return "", fmt.Errorf("%w: %w", apperrors.NewRateLimit("http", f.blockTime), lastErr)
	}
	return "", apperrors.NewNetwork("http", fmt.Sprintf("giving up after %d attempts", f.retries), lastErr)
}

// retryDelay is (attempt+1) * U(2s, 5s).
func retryDelay(attempt int) time.Duration {
	return time.Duration(attempt+1) * helpers.RandomBetween(2*time.Second, 5*time.Second)
}

func (f *HTTPFetcher) blocked() bool {
	if f.cacheSvc == nil {
		return false
	}
	_, err := f.cacheSvc.Get(BlockCacheKey)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		f.log.Debug().Err(err).Msg("Block marker lookup failed")
	}
	return false
}

func (f *HTTPFetcher) block() {
	if f.cacheSvc == nil {
		return
	}
	seconds := strconv.Itoa(int(f.blockTime / time.Second))
	if err := f.cacheSvc.Set(BlockCacheKey, []byte(seconds), f.blockTime); err != nil {
		f.log.Warn().Err(err).Msg("Failed to store block marker")
		return
	}
	f.log.Warn().Dur("block", f.blockTime).Msg("Site is throttling, pausing direct fetches")
}
