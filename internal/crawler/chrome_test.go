package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sjsage522/flatwatcher/pkg/errors"
)

type fakeSession struct {
	id       int
	failNext *atomic.Bool
	inFlight *int32
	overlap  *atomic.Bool
	closed   atomic.Bool
}

func (s *fakeSession) Load(ctx context.Context, pageURL string) (string, error) {
	if atomic.AddInt32(s.inFlight, 1) > 1 {
		s.overlap.Store(true)
	}
	defer atomic.AddInt32(s.inFlight, -1)

	time.Sleep(time.Millisecond)
	if s.failNext.CompareAndSwap(true, false) {
		return "", fmt.Errorf("target crashed")
	}
	return fmt.Sprintf("<html>session %d %s</html>", s.id, pageURL), nil
}

func (s *fakeSession) Close() { s.closed.Store(true) }

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failNext atomic.Bool
	inFlight int32
	overlap  atomic.Bool
}

func (f *fakeFactory) create(BrowserConfig) (pageSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &fakeSession{id: len(f.sessions) + 1, failNext: &f.failNext, inFlight: &f.inFlight, overlap: &f.overlap}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func TestBrowserFetcherRecreatesAfterBudget(t *testing.T) {
	factory := &fakeFactory{}
	b := newBrowserFetcher(BrowserConfig{SessionBudget: 3}, factory.create)

	for i := 0; i < 7; i++ {
		body, err := b.Fetch(context.Background(), "https://www.cian.ru/cat.php")
		require.NoError(t, err)
		assert.Contains(t, body, "session")
	}

	// 3 + 3 + 1 fetches
	assert.Equal(t, 3, factory.count())
	assert.True(t, factory.sessions[0].closed.Load())
	assert.True(t, factory.sessions[1].closed.Load())
	assert.False(t, factory.sessions[2].closed.Load())

	sessions, uses := b.Stats()
	assert.Equal(t, 3, sessions)
	assert.Equal(t, 1, uses)

	require.NoError(t, b.Close())
	assert.True(t, factory.sessions[2].closed.Load())
}

func TestBrowserFetcherRecreatesOnError(t *testing.T) {
	factory := &fakeFactory{}
	b := newBrowserFetcher(BrowserConfig{SessionBudget: 50}, factory.create)

	_, err := b.Fetch(context.Background(), "https://www.cian.ru/cat.php")
	require.NoError(t, err)

	factory.failNext.Store(true)
	_, err = b.Fetch(context.Background(), "https://www.cian.ru/cat.php")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSession))

	// the broken session is gone and a fresh one is ready
	assert.Equal(t, 2, factory.count())
	assert.True(t, factory.sessions[0].closed.Load())

	body, err := b.Fetch(context.Background(), "https://www.cian.ru/cat.php")
	require.NoError(t, err)
	assert.Contains(t, body, "session 2")
	assert.Equal(t, 2, factory.count())
}

func TestBrowserFetcherIsSingleFlight(t *testing.T) {
	factory := &fakeFactory{}
	b := newBrowserFetcher(BrowserConfig{SessionBudget: 50}, factory.create)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Fetch(context.Background(), fmt.Sprintf("https://www.cian.ru/cat.php?p=%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.False(t, factory.overlap.Load(), "page loads must never overlap")
	assert.Equal(t, 1, factory.count())
}

func TestBrowserFetcherFactoryFailure(t *testing.T) {
	b := newBrowserFetcher(BrowserConfig{}, func(BrowserConfig) (pageSession, error) {
		return nil, fmt.Errorf("chrome not installed")
	})

	_, err := b.Fetch(context.Background(), "https://www.cian.ru/cat.php")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSession))
}

func TestBrowserFetcherDefaults(t *testing.T) {
	b := newBrowserFetcher(BrowserConfig{}, (&fakeFactory{}).create)
	assert.Equal(t, 50, b.cfg.SessionBudget)
	assert.Equal(t, 10*time.Second, b.cfg.WaitTimeout)
	assert.Contains(t, b.cfg.ReadySelector, `article[data-name="CardComponent"]`)
	assert.Equal(t, "browser", b.Mode())
}
