// Package server assembles the resolver, scoring engine and their backing
// stores from configuration, and runs their background loops.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noot-app/foodfit-server/internal/cache"
	"github.com/noot-app/foodfit-server/internal/config"
	"github.com/noot-app/foodfit-server/internal/dataset"
	"github.com/noot-app/foodfit-server/internal/httputil"
	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/provider/local"
	"github.com/noot-app/foodfit-server/internal/provider/openfoodfacts"
	"github.com/noot-app/foodfit-server/internal/provider/usda"
	"github.com/noot-app/foodfit-server/internal/query"
	"github.com/noot-app/foodfit-server/internal/resolver"
	"github.com/noot-app/foodfit-server/internal/scoring"
	"github.com/noot-app/foodfit-server/internal/throttle"
)

// defaultRule applies to throttle keys without a configured window
var defaultRule = throttle.Rule{Max: 60, Interval: time.Minute}

// App is the assembled core
type App struct {
	Resolver *resolver.Resolver
	Engine   *scoring.Engine

	cfg         *config.Config
	memory      *cache.Memory
	redis       *redis.Client
	queryEngine query.QueryEngine
	dataManager *dataset.Manager
	log         *slog.Logger
}

// ServerInitializer handles common initialization for every run mode
type ServerInitializer struct {
	config     *config.Config
	log        *slog.Logger
	httpClient *http.Client
}

// NewServerInitializer creates a new server initializer
func NewServerInitializer(cfg *config.Config, logger *slog.Logger) *ServerInitializer {
	return &ServerInitializer{
		config:     cfg,
		log:        logger,
		httpClient: httputil.NewHTTPClient(cfg.ProviderTimeout()),
	}
}

// DataManager returns the parquet snapshot manager for the configured paths
func (si *ServerInitializer) DataManager() *dataset.Manager {
	return dataset.NewManager(dataset.Options{
		URL:                si.config.ParquetURL,
		ParquetPath:        si.config.ParquetPath,
		MetadataPath:       si.config.MetadataPath,
		LockPath:           si.config.LockFile,
		DisableRemoteCheck: si.config.DisableRemoteCheck,
		IgnoreLock:         si.config.IgnoreLock,
	}, si.log)
}

// Initialize builds the scoring engine, the stores and the provider chain
func (si *ServerInitializer) Initialize(ctx context.Context) (*App, error) {
	start := time.Now()
	si.log.Info("Initializing server...")

	if si.config.IsDevelopment() {
		si.log.Warn("🚧 DEVELOPMENT MODE ENABLED 🚧",
			"environment", si.config.Environment,
			"note", "Detailed error messages will be returned to clients")
	}

	app := &App{cfg: si.config, log: si.log}

	engine, err := si.scoringEngine()
	if err != nil {
		return nil, err
	}
	app.Engine = engine

	store, limiter, err := si.stores(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	providers, fallback, err := si.providers(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	res, err := resolver.New(resolver.Options{
		Cache:            store,
		Limiter:          limiter,
		Providers:        providers,
		Fallback:         fallback,
		Timeout:          si.config.ProviderTimeout(),
		Coalesce:         si.config.CoalesceInflight,
		BatchConcurrency: si.config.BatchConcurrency,
		Logger:           si.log,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}
	app.Resolver = res

	si.log.Info("Server initialized successfully",
		"providers", res.Providers(),
		"off_source", si.config.OFFSource,
		"shared_state", app.redis != nil,
		"score_version", engine.Version(),
		"duration", time.Since(start))
	return app, nil
}

func (si *ServerInitializer) scoringEngine() (*scoring.Engine, error) {
	var (
		rules *scoring.RuleSet
		err   error
	)
	if si.config.RulesPath != "" {
		rules, err = scoring.LoadRules(si.config.RulesPath)
	} else {
		rules, err = scoring.DefaultRules()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scoring rules: %w", err)
	}

	cfg := scoring.DefaultConfig()
	if si.config.DefaultServingGrams > 0 {
		cfg.DefaultServingGrams = si.config.DefaultServingGrams
	}
	engine, err := scoring.NewEngine(cfg, rules)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring engine: %w", err)
	}
	return engine, nil
}

// ThrottleConfig maps each provider to its configured window
func ThrottleConfig(cfg *config.Config) throttle.Config {
	rule := func(r config.RateLimit) throttle.Rule {
		return throttle.Rule{Max: r.Max, Interval: r.Window()}
	}
	return throttle.Config{
		Default: defaultRule,
		Keys: map[string]throttle.Rule{
			provider.Local:         rule(cfg.LocalRateLimit),
			provider.USDA:          rule(cfg.USDARateLimit),
			provider.OpenFoodFacts: rule(cfg.OFFRateLimit),
		},
	}
}

// stores picks Redis when configured so several instances share cache and
// quotas, and in-process stores otherwise
func (si *ServerInitializer) stores(ctx context.Context, app *App) (cache.Store, throttle.Limiter, error) {
	throttleCfg := ThrottleConfig(si.config)

	if si.config.RedisAddr == "" {
		app.memory = cache.NewMemory(si.config.CacheTTL(), si.log)
		return app.memory, throttle.NewWindow(throttleCfg), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         si.config.RedisAddr,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.redis = client

	si.log.Info("Connected to Redis", "addr", si.config.RedisAddr, "prefix", si.config.RedisPrefix, "ttl", si.config.CacheTTL())
	store := cache.NewRedis(client, si.config.RedisPrefix, si.config.CacheTTL(), si.log)
	limiter := throttle.NewRedisWindow(client, throttleCfg, si.config.RedisPrefix, si.log)
	return store, limiter, nil
}

// providers builds the chain in priority order: curated, government, crowd-sourced
func (si *ServerInitializer) providers(ctx context.Context, app *App) ([]provider.Adapter, provider.FuzzyLookup, error) {
	curated, err := local.New(si.config.LocalDatasetPath, si.log)
	if err != nil {
		return nil, nil, err
	}

	government := usda.New(si.config.USDAAPIURL, si.config.USDAAPIKey, si.httpClient, si.log)

	catalog, err := si.offCatalog(ctx, app)
	if err != nil {
		return nil, nil, err
	}
	crowd := openfoodfacts.New(catalog, si.log)

	return []provider.Adapter{curated, government, crowd}, curated, nil
}

func (si *ServerInitializer) offCatalog(ctx context.Context, app *App) (openfoodfacts.Catalog, error) {
	switch si.config.OFFSource {
	case config.OFFSourceAPI:
		return openfoodfacts.NewAPICatalog(si.config.OFFAPIURL, si.httpClient, si.log), nil

	case config.OFFSourceParquet:
		app.dataManager = si.DataManager()
		if err := app.dataManager.EnsureDataset(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure dataset: %w", err)
		}

		engine, err := query.NewQueryEngine(si.config.ParquetPath, si.log)
		if err != nil {
			return nil, fmt.Errorf("failed to create query engine: %w", err)
		}
		app.queryEngine = engine

		if err := engine.TestConnection(ctx); err != nil {
			return nil, fmt.Errorf("failed to test connection: %w", err)
		}
		return openfoodfacts.NewParquetCatalog(engine), nil

	default:
		return nil, fmt.Errorf("unknown OFF_SOURCE %q (want %q or %q)", si.config.OFFSource, config.OFFSourceAPI, config.OFFSourceParquet)
	}
}

// Start launches the cache sweeper and the snapshot refresh loop. Both stop with ctx.
func (a *App) Start(ctx context.Context) {
	if a.memory != nil && a.cfg.CacheSweepInterval() > 0 {
		go a.memory.RunSweeper(ctx, a.cfg.CacheSweepInterval())
		a.log.Info("Started cache sweeper", "interval", a.cfg.CacheSweepInterval())
	}

	if a.dataManager != nil && a.cfg.RefreshIntervalHours > 0 {
		go a.dataManager.RunRefresher(ctx, a.cfg.RefreshInterval(), func() {
			a.log.Info("Parquet snapshot replaced, next lookups read the new file")
		})
		a.log.Info("Started dataset refresh loop", "interval_hours", a.cfg.RefreshIntervalHours)
	}
}

// Close releases the query engine and the Redis connection
func (a *App) Close() error {
	var errs []error
	if a.queryEngine != nil {
		if err := a.queryEngine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close query engine: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
