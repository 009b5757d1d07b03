// Package app wires the ingestion engine from configuration. The binaries
// under cmd/ share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/project-tktt/immo-crawler/internal/common/dedup"
	"github.com/project-tktt/immo-crawler/internal/common/filter"
	"github.com/project-tktt/immo-crawler/internal/common/geo"
	"github.com/project-tktt/immo-crawler/internal/common/indexer"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/transport"
	"github.com/project-tktt/immo-crawler/internal/config"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module/ingest"
	"github.com/project-tktt/immo-crawler/internal/module/registry"
	"github.com/project-tktt/immo-crawler/internal/queue"
)

// App holds the wired components. Redis-backed parts are nil when Redis
// is unreachable.
type App struct {
	Config       *config.Config
	Log          logger.Logger
	Redis        *redis.Client
	Registry     *registry.Registry
	Geocoder     *geo.Geocoder
	Store        indexer.Store
	Seen         *dedup.SeenSet
	Publisher    *queue.Publisher
	Consumer     *queue.Consumer
	Orchestrator *ingest.Orchestrator

	closers []func() error
}

// New connects the collaborators named by cfg and builds the orchestrator
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	log = logger.OrNop(log)
	a := &App{Config: cfg, Log: log}

	a.connectRedis(ctx)

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	a.Registry = registry.New(registry.DefaultProfiles(), registry.Config{
		Floor:           cfg.Scraping.Delay,
		DefaultMaxPages: cfg.Scraping.MaxPagesPerSite,
		Logger:          log,
	})

	var cache geo.Cache = geo.NewMemoryCache()
	if a.Redis != nil {
		cache = geo.NewTieredCache(cache, geo.NewRedisCache(a.Redis, "immo:geo", cfg.Geo.CacheTTL))
	}
	a.Geocoder = geo.NewGeocoder(geo.Config{
		BaseURL:   cfg.Geo.BaseURL,
		UserAgent: cfg.Scraping.UserAgent,
		Timeout:   cfg.Geo.Timeout,
		Cache:     cache,
		Logger:    log,
	})

	deps := &ingest.DepsBuilder{
		Registry:    a.Registry,
		Timeout:     cfg.Scraping.RequestTimeout,
		Fingerprint: cfg.Scraping.Fingerprint,
		UserAgent:   cfg.Scraping.UserAgent,
		Log:         log,
	}
	if cfg.Browser.Enabled {
		deps.Browser = &transport.BrowserConfig{ExecPath: cfg.Browser.ExecPath, Timeout: cfg.Browser.Timeout}
	}

	orchCfg := ingest.Config{
		Registry:       a.Registry,
		Deps:           deps,
		Geocoder:       a.Geocoder,
		PostalCodes:    a.Geocoder,
		Store:          a.Store,
		Filter:         filter.NewAgencyFilter(nil, log),
		DefaultSources: sourceKeys(cfg.Scraping.DefaultSources),
		MaxPages:       cfg.Scraping.MaxPagesPerSite,
		Logger:         log,
	}
	if a.Redis != nil {
		a.Seen = dedup.NewSeenSet(a.Redis, cfg.Redis.SeenPrefix, cfg.Redis.SeenTTL)
		a.Publisher = queue.NewPublisher(a.Redis, cfg.Redis.RunQueue, cfg.Redis.EventQueue)
		a.Consumer = queue.NewConsumer(a.Redis, cfg.Redis.RunQueue, cfg.Redis.EventQueue, 5*time.Second, log)
		deps.Seen = a.Seen
		orchCfg.Seen = a.Seen
		orchCfg.Events = a.Publisher
	}

	a.Orchestrator, err = ingest.New(orchCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connectRedis(ctx context.Context) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.Log.Warn("redis unavailable, queue, seen-set and shared geocoder cache disabled", map[string]interface{}{
			"addr":  cfg.Addr,
			"error": err.Error(),
		})
		_ = client.Close()
		return
	}
	a.Log.Info("redis connected", map[string]interface{}{"addr": cfg.Addr})
	a.Redis = client
	a.closers = append(a.closers, client.Close)
}

func (a *App) openStore(ctx context.Context) (indexer.Store, error) {
	cfg := a.Config
	retention := time.Duration(cfg.Storage.CleanupDays) * 24 * time.Hour

	var store indexer.Store
	switch cfg.Storage.Driver {
	case "memory":
		mem := indexer.NewMemoryStore(nil)
		mem.SetRetention(retention)
		store = mem
		a.Log.Info("using in-memory storage", nil)
	default:
		pg, err := indexer.NewPostgresStore(cfg.Postgres.URL, cfg.Postgres.Table,
			indexer.WithRetention(retention),
			indexer.WithLogger(a.Log),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		store = pg
		a.Log.Info("postgres connected", map[string]interface{}{"table": cfg.Postgres.Table})
	}

	if !cfg.Elasticsearch.Enabled {
		return store, nil
	}
	mirror, err := indexer.NewSearchMirror(store, cfg.Elasticsearch.Addresses, cfg.Elasticsearch.Index, nil, a.Log)
	if err != nil {
		a.Log.Warn("elasticsearch unavailable, search mirror disabled", map[string]interface{}{"error": err.Error()})
		return store, nil
	}
	if err := mirror.EnsureIndex(ctx); err != nil {
		a.Log.Warn("ensure search index failed", map[string]interface{}{"error": err.Error()})
	}
	a.Log.Info("elasticsearch connected", map[string]interface{}{"index": cfg.Elasticsearch.Index})
	return mirror, nil
}

// Close releases connections in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	a.closers = nil
}

func sourceKeys(in []string) []domain.SourceKey {
	out := make([]domain.SourceKey, 0, len(in))
	for _, s := range in {
		out = append(out, domain.SourceKey(s))
	}
	return out
}
