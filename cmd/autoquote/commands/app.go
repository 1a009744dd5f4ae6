package commands

import (
	"context"
	"log/slog"
	"time"

	"autoquote-backend/internal/browser"
	"autoquote-backend/internal/catalog"
	"autoquote-backend/internal/components/chrono"
	"autoquote-backend/internal/pricecache"
	"autoquote-backend/internal/pricing"
	"autoquote-backend/internal/quote"
	"autoquote-backend/lib/util/serviceutil"
	"autoquote-backend/pkg/migrations"
)

// app is everything a command needs, built from the config.
type app struct {
	cfg      Config
	clock    chrono.API
	catalog  *catalog.Catalog
	store    pricecache.Store
	resolver *pricing.Resolver
	close    func()
}

// openStore never fails, a cache that cannot be opened is replaced by an
// empty one.
func openStore(ctx context.Context, cfg CacheConfig, services pricecache.Services, clock chrono.API) (pricecache.Store, func()) {
	policy, err := pricecache.ParsePolicy(cfg.Freshness, time.Duration(cfg.TTLHours)*time.Hour)
	if err != nil {
		slog.Warn("unknown freshness policy, keeping entries indefinitely", "policy", cfg.Freshness, "err", err)
		policy = pricecache.Indefinite{}
	}
	withPolicy := pricecache.WithFreshnessPolicy(policy)

	if cfg.DSN == "" {
		slog.Info("no cache configured, every price will be scraped")
		return pricecache.NewStore(nil, migrations.SQLite, services, clock, withPolicy), func() {}
	}

	db, dialect, err := migrations.OpenDSN(ctx, cfg.DSN)
	if err == nil {
		err = migrations.Migrate(ctx, db, pricecache.Schema(dialect))
		if err != nil {
			db.Close()
		}
	}
	if err != nil {
		slog.Warn("price cache unavailable, continuing without it", "err", err)
		return pricecache.NewStore(nil, migrations.SQLite, services, clock, withPolicy), func() {}
	}
	return pricecache.NewStore(db, dialect, services, clock, withPolicy), func() { db.Close() }
}

func newApp(ctx context.Context) *app {
	cfg, err := loadConfig(configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err, "path", configPath)
	}
	clock, err := chrono.NewStandardImpl()
	if err != nil {
		serviceutil.Fatal("failed to load timezone", err)
	}
	services, err := catalog.Load(cfg.Catalog)
	if err != nil {
		serviceutil.Fatal("failed to load catalog", err, "path", cfg.Catalog)
	}

	store, closeStore := openStore(ctx, cfg.Cache, services, clock)

	launcher := browser.NewChromeLauncher(browser.ChromeConfig{
		Headless:  cfg.Browser.headless(),
		ExecPath:  cfg.Browser.ExecPath,
		UserAgent: cfg.Browser.UserAgent,
	})
	engine := quote.NewEngine(launcher, services,
		quote.WithArtifacts(dumpOutput(cfg.Browser.DebugDir, "sessions")),
		quote.WithLinger(time.Duration(cfg.Browser.KeepOpenMs)*time.Millisecond),
	)

	return &app{
		cfg:      cfg,
		clock:    clock,
		catalog:  services,
		store:    store,
		resolver: pricing.NewResolver(services, store, engine),
		close:    closeStore,
	}
}
