package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	cli "github.com/urfave/cli/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-modcases/internal/cache"
	"github.com/tbourn/go-modcases/internal/config"
	"github.com/tbourn/go-modcases/internal/repo"
	"github.com/tbourn/go-modcases/internal/services"
	"github.com/tbourn/go-modcases/internal/sysutil"
)

// app bundles the wired services shared by every command.
type app struct {
	cfg   config.Config
	db    *gorm.DB
	store cache.Store
	coord *services.Coordinator
	mod   *services.Moderation
}

// loadConfig reads the environment and applies global flags on top.
func loadConfig(cctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	cfg.LogLevel = sysutil.FirstNonEmpty(cctx.String("log-level"), cfg.LogLevel)
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}

// openStore dials the durable store named by DATABASE_URL.
func openStore(cfg config.Config) (*gorm.DB, error) {
	lvl := logger.Warn
	if cfg.LogLevel == "debug" {
		lvl = logger.Info
	}
	db, err := repo.Open(cfg.Store.URL, repo.Options{
		MaxOpenConns: cfg.Store.MaxOpenConns,
		Tracing:      cfg.OTEL.Enabled,
		LogLevel:     lvl,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

// openCache builds the configured cache backend. A Redis cache that cannot
// be reached at startup is an error; once running, outages only degrade it.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemStore(cfg.MemorySize, cfg.ConfigTTL), nil
	case "redis":
		rs, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			URL:            cfg.RedisURL,
			LocalCacheSize: cfg.LocalCacheSize,
			LocalCacheTTL:  time.Second,
			DialTimeout:    5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return rs, nil
	case "", "none":
		return cache.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// coordinatorOptions maps configuration onto the Coordinator.
func coordinatorOptions(cfg config.Config) services.CoordinatorOptions {
	opts := services.DefaultCoordinatorOptions()
	opts.KeyPrefix = cfg.Cache.KeyPrefix
	opts.CacheTimeout = cfg.Cache.Timeout
	opts.ConfigTTL = cfg.Cache.ConfigTTL
	opts.FailureThreshold = cfg.Cache.FailureThreshold
	opts.Cooldown = cfg.Cache.Cooldown
	opts.StoreTimeout = cfg.Store.Timeout
	opts.ExcludeReversedWarnings = cfg.Ledger.ExcludeReversedWarnings
	return opts
}

// newApp opens the store and cache and wires the services over them.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Store.AutoMigrate {
		if err := repo.AutoMigrate(db); err != nil {
			closeDB(db)
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	store, err := openCache(ctx, cfg.Cache)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	coord := services.NewCoordinator(db, store, coordinatorOptions(cfg))
	ledger := services.NewLedger(coord, cfg.Ledger.SystemActorID)
	ledger.IntentTTL = cfg.IdempotencyTTL
	mod := services.NewModeration(ledger, services.NewEvaluator(ledger))

	log.Info().
		Str("store", redactScheme(cfg.Store.URL)).
		Str("cache", cfg.Cache.Backend).
		Bool("exclude_reversed_warnings", cfg.Ledger.ExcludeReversedWarnings).
		Msg("services ready")

	return &app{cfg: cfg, db: db, store: store, coord: coord, mod: mod}, nil
}

// Close releases the cache and the store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close cache")
	}
	closeDB(a.db)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// redactScheme keeps only the scheme of a store URL for logging.
func redactScheme(u string) string {
	if i := strings.Index(u, "://"); i > 0 {
		return u[:i]
	}
	if i := strings.Index(u, "="); i > 0 {
		return u[:i]
	}
	return "custom"
}
