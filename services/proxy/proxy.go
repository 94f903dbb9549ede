package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ProxyManager picks the forward proxy outbound requests go through
type ProxyManager interface {
	UpdateProxies(ctx context.Context) error
	GetFastestProxy() (*ProxyInfo, error)
	GetTopProxies(n int) []ProxyInfo
}

// ProxyInfo holds proxy information with latency
type ProxyInfo struct {
	URL      *url.URL      `json:"-"`
	Address  string        `json:"address"`
	Type     string        `json:"type"`
	Latency  time.Duration `json:"latency"`
	LastTest time.Time     `json:"last_test"`
	Working  bool          `json:"working"`
}

// Pool manages a configured set of forward proxies and ranks them by latency
type Pool struct {
	proxies        []ProxyInfo
	mutex          sync.RWMutex
	lastUpdate     time.Time
	updateInterval time.Duration
	dialTimeout    time.Duration
}

// NewPool parses proxy URLs (socks5://, http://, https://)
func NewPool(rawURLs []string) (*Pool, error) {
	pool := &Pool{
		updateInterval: 30 * time.Minute,
		dialTimeout:    5 * time.Second,
	}

	for _, raw := range rawURLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
		}
		switch u.Scheme {
		case "socks5", "http", "https":
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q in %q", u.Scheme, raw)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("proxy URL %q has no host", raw)
		}
		pool.proxies = append(pool.proxies, ProxyInfo{
			URL:     u,
			Address: u.Host,
			Type:    u.Scheme,
			Working: true,
		})
	}

	return pool, nil
}

// Len returns the number of configured proxies
func (p *Pool) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.proxies)
}

// UpdateProxies measures every proxy and re-ranks them; it is a no-op while the ranking is fresh
func (p *Pool) UpdateProxies(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.proxies) == 0 {
		return nil
	}
	if !p.lastUpdate.IsZero() && time.Since(p.lastUpdate) < p.updateInterval {
		return nil
	}

	ranked := make([]ProxyInfo, len(p.proxies))
	copy(ranked, p.proxies)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for i := range ranked {
		proxy := &ranked[i]
		g.Go(func() error {
			p.testProxyLatency(gctx, proxy)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Working != ranked[j].Working {
			return ranked[i].Working
		}
		return ranked[i].Latency < ranked[j].Latency
	})

	p.proxies = ranked
	p.lastUpdate = time.Now()

	working := 0
	for _, proxy := range ranked {
		if proxy.Working {
			working++
		}
	}
	log.Info().
		Int("configured", len(ranked)).
		Int("working", working).
		Msg("Updated proxy ranking")

	return nil
}

// testProxyLatency tests the latency of a single proxy
func (p *Pool) testProxyLatency(ctx context.Context, proxy *ProxyInfo) {
	testStart := time.Now()
	dialer := net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxy.Address)
	proxy.LastTest = time.Now()
	if err != nil {
		log.Debug().Str("proxy", proxy.Address).Err(err).Msg("TCP connection failed")
		proxy.Working = false
		proxy.Latency = time.Hour
		return
	}
	defer conn.Close()

	if proxy.Type == "socks5" && !testSOCKS5Handshake(conn) {
		log.Debug().Str("proxy", proxy.Address).Msg("SOCKS5 handshake failed")
		proxy.Working = false
		proxy.Latency = time.Hour
		return
	}

	proxy.Working = true
	proxy.Latency = time.Since(testStart)
	log.Debug().Str("proxy", proxy.Address).Dur("latency", proxy.Latency).Msg("Proxy working")
}

// testSOCKS5Handshake performs a basic SOCKS5 handshake
func testSOCKS5Handshake(conn net.Conn) bool {
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetDeadline(time.Time{})

	// VER=5, NMETHODS=1, METHODS=0 (no authentication)
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return false
	}

	authResp := make([]byte, 2)
	if _, err := conn.Read(authResp); err != nil {
		return false
	}
	return authResp[0] == 0x05 && authResp[1] == 0x00
}

// GetFastestProxy returns the best ranked working proxy
func (p *Pool) GetFastestProxy() (*ProxyInfo, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	for _, proxy := range p.proxies {
		if proxy.Working {
			found := proxy
			return &found, nil
		}
	}
	return nil, fmt.Errorf("no working proxies available")
}

// GetTopProxies returns the top N ranked proxies
func (p *Pool) GetTopProxies(n int) []ProxyInfo {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if n > len(p.proxies) {
		n = len(p.proxies)
	}
	result := make([]ProxyInfo, n)
	copy(result, p.proxies[:n])
	return result
}

// ProxyFunc plugs the pool into an http.Transport
func (p *Pool) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		if p.Len() == 0 {
			return nil, nil
		}
		proxy, err := p.GetFastestProxy()
		if err != nil {
			return nil, err
		}
		return proxy.URL, nil
	}
}

// Stats summarizes the pool for the admin surface
func (p *Pool) Stats() map[string]interface{} {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stats := map[string]interface{}{
		"total_proxies": len(p.proxies),
		"last_update":   p.lastUpdate,
	}
	for _, proxy := range p.proxies {
		if proxy.Working {
			stats["fastest_proxy"] = proxy.Address
			stats["fastest_latency"] = proxy.Latency.String()
			break
		}
	}
	return stats
}
