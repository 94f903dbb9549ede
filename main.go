package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"sjsage522/flatwatcher/config"
	"sjsage522/flatwatcher/helpers"
	"sjsage522/flatwatcher/internal/crawler"
	"sjsage522/flatwatcher/internal/geo"
	"sjsage522/flatwatcher/logger"
	"sjsage522/flatwatcher/services/admin"
	"sjsage522/flatwatcher/services/cache"
	"sjsage522/flatwatcher/services/geocoder"
	"sjsage522/flatwatcher/services/proxy"
	"sjsage522/flatwatcher/services/publisher"
	"sjsage522/flatwatcher/services/store"
	"sjsage522/flatwatcher/services/worker"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("fetch_mode", cfg.FetchMode).
		Dur("poll_interval", cfg.PollInterval).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("Starting application")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	w := worker.NewWorker(
		services.Crawler,
		services.Store,
		services.Notifier,
		services.Ledger,
		helpers.NewLogger(cfg.ErrorLogFile),
		cfg.PollInterval,
		cfg.NotifyRatePerSecond,
	).WithProxies(services.Proxies)

	adminServer := admin.NewServer(services.Crawler, services.Store, services.Catalog, cfg.AdminToken).
		WithProxies(services.Proxies).
		WithCycles(w)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msg("Starting poll worker")
		return w.Start(ctx)
	})
	g.Go(func() error {
		return adminServer.ListenAndServe(ctx, cfg.AdminAddr)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Exited with error")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
}

// Services holds all the initialized services
type Services struct {
	Store    *store.PostgresStore
	Cache    cache.CacheService
	Proxies  *proxy.Pool
	Fetcher  crawler.Fetcher
	Crawler  *crawler.Crawler
	Catalog  *geo.Catalog
	Notifier publisher.Notifier
	Ledger   publisher.DeliveryLedger
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Notifier != nil {
		s.Notifier.Close()
	}
	if s.Fetcher != nil {
		s.Fetcher.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{Catalog: geo.Default()}

	// Subscriber store is the only hard dependency
	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	services.Store = pg
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	logger.Info("Connected to PostgreSQL")

	// Initialize cache service
	memcacheService := cache.NewMemcacheService(cfg.MemcacheAddr)
	if err := memcacheService.Ping(); err != nil {
		logger.Warn("Memcache at %s is not reachable, keeping the block marker in memory: %v", cfg.MemcacheAddr, err)
		services.Cache = cache.NewMemoryService()
	} else {
		services.Cache = memcacheService
		logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
	}

	// Proxies
	pool, err := proxy.NewPool(cfg.ProxyURLs)
	if err != nil {
		services.Cleanup()
		return nil, err
	}
	services.Proxies = pool
	if pool.Len() > 0 {
		if err := pool.UpdateProxies(ctx); err != nil {
			logger.Warn("Failed to rank proxies: %v", err)
		}
		logger.Default.Info().Interface("proxy_stats", pool.Stats()).Msg("Proxy stats")
	}

	// Retriever
	switch cfg.FetchMode {
	case config.FetchModeBrowser:
		browserCfg := crawler.BrowserConfig{
			Headless:      cfg.BrowserHeadless,
			SessionBudget: cfg.BrowserSessionBudget,
			WaitTimeout:   cfg.BrowserWait,
		}
		if best, err := pool.GetFastestProxy(); err == nil {
			browserCfg.ProxyServer = best.URL.String()
		}
		services.Fetcher = crawler.NewBrowserFetcher(browserCfg)
	default:
		services.Fetcher = crawler.NewHTTPFetcher(crawler.HTTPConfig{
			Retries:   cfg.HTTPRetries,
			Timeout:   cfg.HTTPTimeout,
			BlockTime: cfg.RateLimitBlock,
			Proxy:     pool.ProxyFunc(),
		}, services.Cache)
	}

	extractor, err := crawler.NewExtractor(cfg.CianBaseURL)
	if err != nil {
		services.Cleanup()
		return nil, err
	}

	// A nil *DaDataResolver must not end up inside the interface
	var resolver crawler.Resolver
	if r := geocoder.NewDaDataResolver(cfg.DaDataAPIKey, cfg.DaDataSecret, services.Catalog); r != nil {
		resolver = r
		logger.Info("District resolution through DaData enabled")
	}

	services.Crawler = crawler.New(
		services.Fetcher,
		extractor,
		crawler.NewQueryBuilder(cfg.CianURL, services.Catalog),
		cache.NewResultCache(cfg.CacheTTL),
		resolver,
	)

	// Notifications
	client, err := publisher.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("Redis at %s is not reachable, notifications go to the log: %v", cfg.RedisAddr, err)
		services.Notifier = publisher.NewLogNotifier()
		services.Ledger = publisher.NewMemoryLedger(cfg.LedgerTTL)
	} else {
		services.Notifier = publisher.NewRedisNotifier(client, cfg.RedisStream, cfg.RedisStreamCount, int(cfg.RedisStreamMaxLength))
		services.Ledger = publisher.NewRedisLedger(client, cfg.RedisStream, cfg.LedgerTTL)
		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
	}

	return services, nil
}
