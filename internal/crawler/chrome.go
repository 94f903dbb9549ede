package crawler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"sjsage522/flatwatcher/helpers"
	"sjsage522/flatwatcher/logger"
	apperrors "sjsage522/flatwatcher/pkg/errors"
)

// BrowserConfig configures the automated browser retriever.
type BrowserConfig struct {
	Headless bool
	// SessionBudget is the number of fetches before the session is replaced
	SessionBudget int
	// WaitTimeout bounds the wait for the listing grid marker
	WaitTimeout time.Duration
	// PageTimeout bounds one whole page load
	PageTimeout time.Duration
	ProxyServer string
	// ReadySelector marks a rendered listing grid
	ReadySelector string
}

// pageSession is one live browser context.
type pageSession interface {
	Load(ctx context.Context, pageURL string) (string, error)
	Close()
}

type sessionFactory func(cfg BrowserConfig) (pageSession, error)

// BrowserFetcher owns a single automated browser session. Fetches are
// serialized; the session is replaced after SessionBudget fetches and
// right after any failed fetch.
type BrowserFetcher struct {
	cfg        BrowserConfig
	sem        *semaphore.Weighted
	newSession sessionFactory

	mu       sync.Mutex
	session  pageSession
	uses     int
	sessions int

	log *logger.Logger
}

// NewBrowserFetcher creates a browser retriever. The session starts lazily.
func NewBrowserFetcher(cfg BrowserConfig) *BrowserFetcher {
	return newBrowserFetcher(cfg, newChromeSession)
}

func newBrowserFetcher(cfg BrowserConfig, factory sessionFactory) *BrowserFetcher {
	if cfg.SessionBudget < 1 {
		cfg.SessionBudget = 50
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}
	if cfg.ReadySelector == "" {
		cfg.ReadySelector = readySelector(DefaultCardStrategies)
	}
	return &BrowserFetcher{
		cfg:        cfg,
		sem:        semaphore.NewWeighted(1),
		newSession: factory,
		log:        logger.ForBrowser(),
	}
}

// Mode implements Fetcher.
func (b *BrowserFetcher) Mode() string { return "browser" }

// Fetch loads pageURL in the shared session and returns the rendered HTML.
func (b *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer b.sem.Release(1)

	session, err := b.acquireSession()
	if err != nil {
		return "", err
	}

	body, err := session.Load(ctx, pageURL)

	b.mu.Lock()
	b.uses++
	b.mu.Unlock()

	if err != nil {
		b.log.Warn().Err(err).Str("url", pageURL).Msg("Browser fetch failed, recreating session")
		b.resetSession()
		if _, recreateErr := b.acquireSession(); recreateErr != nil {
			b.log.Error().Err(recreateErr).Msg("Failed to recreate browser session")
		}
		return "", apperrors.NewSession("browser", "page load failed", err)
	}

	return body, nil
}

// Close tears the session down.
func (b *BrowserFetcher) Close() error {
	b.resetSession()
	return nil
}

// Stats reports session usage.
func (b *BrowserFetcher) Stats() (sessions, uses int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions, b.uses
}

func (b *BrowserFetcher) acquireSession() (pageSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil && b.uses >= b.cfg.SessionBudget {
		b.log.Info().Int("uses", b.uses).Msg("Session budget exhausted, recreating")
		b.session.Close()
		b.session = nil
	}
	if b.session != nil {
		return b.session, nil
	}

	session, err := b.newSession(b.cfg)
	if err != nil {
		return nil, apperrors.NewSession("browser", "failed to start session", err)
	}
	b.session = session
	b.uses = 0
	b.sessions++
	b.log.Info().Int("session", b.sessions).Msg("Browser session started")
	return session, nil
}

func (b *BrowserFetcher) resetSession() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		b.session.Close()
		b.session = nil
	}
}

func readySelector(strategies []CardStrategy) string {
	selectors := make([]string, 0, len(strategies))
	for _, s := range strategies {
		selectors = append(selectors, s.Selector)
	}
	return strings.Join(selectors, ", ")
}

// chromeSession drives a real Chrome through chromedp.
type chromeSession struct {
	cfg         BrowserConfig
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	log         *logger.Logger
}

func newChromeSession(cfg BrowserConfig) (pageSession, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), stealthOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// starts the browser process
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &chromeSession{
		cfg:         cfg,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		log:         logger.ForBrowser(),
	}, nil
}

func (s *chromeSession) Load(ctx context.Context, pageURL string) (string, error) {
	pageCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.PageTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	actions := []chromedp.Action{
		chromedp.Navigate(pageURL),
		hideWebDriver(),
		chromedp.Sleep(helpers.RandomBetween(2*time.Second, 5*time.Second)),
	}
	for i, scrolls := 0, 3+rand.Intn(3); i < scrolls; i++ {
		actions = append(actions,
			chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, 300+rand.Intn(500)), nil),
			chromedp.Sleep(helpers.RandomBetween(500*time.Millisecond, 1500*time.Millisecond)),
		)
	}
	actions = append(actions, chromedp.MouseEvent(input.MouseMoved, float64(100+rand.Intn(800)), float64(100+rand.Intn(600))))

	if err := chromedp.Run(pageCtx, actions...); err != nil {
		return "", fmt.Errorf("failed to load %s: %w", pageURL, err)
	}

	waitCtx, waitCancel := context.WithTimeout(pageCtx, s.cfg.WaitTimeout)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(s.cfg.ReadySelector, chromedp.ByQuery))
	waitCancel()
	if err != nil {
		s.log.Warn().Err(err).Msg("Listing grid not visible before timeout, reading page anyway")
	}

	var body string
	if err := chromedp.Run(pageCtx, chromedp.OuterHTML("html", &body, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return body, nil
}

func (s *chromeSession) Close() {
	s.tabCancel()
	s.allocCancel()
}
