package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sjsage522/flatwatcher/pkg/errors"
	"sjsage522/flatwatcher/services/cache"
)

func newTestHTTPFetcher(cacheSvc cache.CacheService) (*HTTPFetcher, *[]time.Duration) {
	f := NewHTTPFetcher(HTTPConfig{Retries: 3, Timeout: 5 * time.Second, BlockTime: time.Minute}, cacheSvc)
	var sleeps []time.Duration
	f.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return f, &sleeps
}

func TestHTTPFetcherSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	f, sleeps := newTestHTTPFetcher(nil)
	body, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
	assert.Empty(t, *sleeps)
}

func TestHTTPFetcherRetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("third time"))
	}))
	defer server.Close()

	f, sleeps := newTestHTTPFetcher(nil)
	body, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "third time", body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	require.Len(t, *sleeps, 2)
	for i, d := range *sleeps {
		factor := time.Duration(i + 1)
		assert.GreaterOrEqual(t, d, factor*2*time.Second)
		assert.LessOrEqual(t, d, factor*5*time.Second)
	}
}

func TestHTTPFetcherGivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f, sleeps := newTestHTTPFetcher(nil)
	_, err := f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNetwork))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, *sleeps, 2)
}

func TestHTTPFetcherRateLimitBlocks(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	blocks := cache.NewMemoryService()
	f, _ := newTestHTTPFetcher(blocks)

	_, err := f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRateLimit))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	marker, err := blocks.Get(BlockCacheKey)
	require.NoError(t, err)
	assert.Equal(t, "60", string(marker))

	// blocked: no request leaves the process
	_, err = f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRateLimit))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPFetcherStopsOnCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, sleeps := newTestHTTPFetcher(nil)
	_, err := f.Fetch(ctx, server.URL)
	assert.Error(t, err)
	assert.Empty(t, *sleeps)
}

func TestRetryDelayBounds(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		d := retryDelay(attempt)
		factor := time.Duration(attempt + 1)
		assert.GreaterOrEqual(t, d, factor*2*time.Second)
		assert.LessOrEqual(t, d, factor*5*time.Second)
	}
}
