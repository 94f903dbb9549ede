package crawler

import (
	"context"
	"fmt"
	"sync"
)

// MockFetcher returns canned pages and records requested URLs
type MockFetcher struct {
	mu    sync.Mutex
	pages []string
	err   error
	urls  []string
}

func NewMockFetcher(pages ...string) *MockFetcher {
	return &MockFetcher{pages: pages}
}

func (m *MockFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.urls = append(m.urls, pageURL)
	if m.err != nil {
		return "", m.err
	}
	if len(m.pages) == 0 {
		return "", fmt.Errorf("no page queued")
	}
	page := m.pages[0]
	if len(m.pages) > 1 {
		m.pages = m.pages[1:]
	}
	return page, nil
}

func (m *MockFetcher) Mode() string { return "mock" }

func (m *MockFetcher) Close() error { return nil }

func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...)
}

// MockResolver maps addresses by substring
type MockResolver struct {
	mu        sync.Mutex
	districts map[string]string
	calls     int
}

func (m *MockResolver) Resolve(ctx context.Context, address string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	d, ok := m.districts[address]
	return d, ok
}

var (
	_ Fetcher  = (*MockFetcher)(nil)
	_ Resolver = (*MockResolver)(nil)
	_ Fetcher  = (*HTTPFetcher)(nil)
	_ Fetcher  = (*BrowserFetcher)(nil)
)
