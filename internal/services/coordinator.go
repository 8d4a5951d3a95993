// Package services – Coordinator
//
// This file implements the Consistency Coordinator, which mediates every read
// of a cacheable aggregate (recent warning counts, escalation and modlog
// configs) between the Cache Layer and the durable store, and runs the
// conditional escalation insert.
//
// Read path: look the value up in the cache; on a miss or any cache failure
// load it from the store and, when the cache is reachable, populate it with a
// bounded TTL. Cache errors are logged and counted, never returned.
//
// Write path: the store is written first; after commit the cache entry is
// invalidated, never updated in place. Entries are addressed through a
// generation token (see genKey). Readers fetch the token before they read the
// store and writers delete it after they commit, so a reader that raced a
// writer can only park its stale value under a generation nobody will read.
//
// Degraded mode: FailureThreshold consecutive cache failures open a Cooldown
// window in which the cache is skipped entirely. Invalidations that fail or
// are skipped are queued and replayed before the cache is trusted again.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/cache"
	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// generationTTL bounds how long an unused generation token is kept.
const generationTTL = 7 * 24 * time.Hour

// maxTimeout is the longest timeout the messaging platform accepts.
const maxTimeout = 28 * 24 * time.Hour

// CoordinatorOptions tunes cache use and store access.
type CoordinatorOptions struct {
	// KeyPrefix namespaces every cache key so deployments can share a cache.
	KeyPrefix string
	// CacheTimeout bounds each cache operation.
	CacheTimeout time.Duration
	// ConfigTTL is the lifetime of cached configs.
	ConfigTTL time.Duration
	// FailureThreshold consecutive cache failures enter degraded mode.
	FailureThreshold int
	// Cooldown is how long degraded mode lasts.
	Cooldown time.Duration
	// PendingSize caps the queue of invalidations awaiting replay.
	PendingSize int
	// StoreTimeout bounds each durable-store operation.
	StoreTimeout time.Duration
	// ExcludeReversedWarnings drops warnings whose Warn case was reversed
	// from escalation counts.
	ExcludeReversedWarnings bool
}

// DefaultCoordinatorOptions returns the options used for zero fields.
func DefaultCoordinatorOptions() CoordinatorOptions {
	return CoordinatorOptions{
		KeyPrefix:        "modcases:prod",
		CacheTimeout:     250 * time.Millisecond,
		ConfigTTL:        15 * time.Minute,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		PendingSize:      4096,
		StoreTimeout:     5 * time.Second,
	}
}

// CacheStats is a snapshot of cache activity since start.
type CacheStats struct {
	Hits                 int64 `json:"hits"`
	Misses               int64 `json:"misses"`
	Sets                 int64 `json:"sets"`
	Deletes              int64 `json:"deletes"`
	Errors               int64 `json:"errors"`
	FallbackLoads        int64 `json:"fallback_loads"`
	Degraded             bool  `json:"degraded"`
	PendingInvalidations int   `json:"pending_invalidations"`
}

// Coordinator keeps the cache coherent with the durable store.
type Coordinator struct {
	DB    *gorm.DB
	Cache cache.Store
	Log   zerolog.Logger
	// Now is the clock used for windows, timestamps and cooldowns.
	Now  func() time.Time
	Opts CoordinatorOptions

	mu            sync.Mutex
	failures      int
	degradedUntil time.Time
	pending       *lru.Cache[string, uint64]
	pendingSeq    uint64

	hits, misses, sets, dels, errs, fallbacks atomic.Int64
}

// NewCoordinator wires a Coordinator. A nil store disables caching.
func NewCoordinator(db *gorm.DB, store cache.Store, opts CoordinatorOptions) *Coordinator {
	def := DefaultCoordinatorOptions()
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = def.KeyPrefix
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = def.CacheTimeout
	}
	if opts.ConfigTTL <= 0 {
		opts.ConfigTTL = def.ConfigTTL
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.PendingSize <= 0 {
		opts.PendingSize = def.PendingSize
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if store == nil {
		store = cache.Noop{}
	}
	pending, _ := lru.New[string, uint64](opts.PendingSize)
	return &Coordinator{
		DB:      db,
		Cache:   store,
		Log:     log.With().Str("component", "coordinator").Logger(),
		Now:     time.Now,
		Opts:    opts,
		pending: pending,
	}
}

func (c *Coordinator) now() time.Time { return c.Now().UTC() }

// read runs fn against the store with StoreTimeout.
func (c *Coordinator) read(ctx context.Context, op string, fn func(ctx context.Context, db *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.Opts.StoreTimeout)
	defer cancel()
	return storeErr(op, fn(ctx, c.DB))
}

// write runs fn in one transaction. The caller's cancellation is detached so
// a write either commits or rolls back as a whole; StoreTimeout still applies.
func (c *Coordinator) write(ctx context.Context, op string, fn func(ctx context.Context, tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Opts.StoreTimeout)
	defer cancel()
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
	return storeErr(op, err)
}

func (c *Coordinator) warningsKey(communityID, userID int64) string {
	return fmt.Sprintf("%s:guild:%d:user:%d:warnings", c.Opts.KeyPrefix, communityID, userID)
}

func (c *Coordinator) configKey(communityID int64, name string) string {
	return fmt.Sprintf("%s:guild:%d:config:%s", c.Opts.KeyPrefix, communityID, name)
}

func genKey(base string) string { return base + ":gen" }

// CacheDegraded reports whether the cache is currently bypassed.
func (c *Coordinator) CacheDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degradedLocked(c.now())
}

func (c *Coordinator) degradedLocked(now time.Time) bool {
	if c.degradedUntil.IsZero() {
		return false
	}
	if now.Before(c.degradedUntil) {
		return true
	}
	c.degradedUntil = time.Time{}
	cacheDegraded.Set(0)
	c.Log.Info().Msg("cache cooldown elapsed, retrying cache")
	return false
}

func (c *Coordinator) cacheOK() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

func (c *Coordinator) cacheFailed(op, key string, err error) {
	c.errs.Add(1)
	cacheOps.WithLabelValues("error").Inc()

	now := c.now()
	c.mu.Lock()
	c.failures++
	tripped := false
	if c.failures >= c.Opts.FailureThreshold && !c.degradedLocked(now) {
		c.degradedUntil = now.Add(c.Opts.Cooldown)
		c.failures = 0
		tripped = true
		cacheDegraded.Set(1)
	}
	c.mu.Unlock()

	c.Log.Warn().Err(err).Str("op", op).Str("cache_key", key).Msg("cache operation failed")
	if tripped {
		c.Log.Error().Dur("cooldown", c.Opts.Cooldown).Msg("cache degraded, serving from store")
	}
}

func (c *Coordinator) queue(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.pendingSeq++
		if c.pending.Add(k, c.pendingSeq) {
			cachePendingOverflow.Inc()
			c.Log.Error().Str("cache_key", k).Msg("pending invalidation set full, oldest entry dropped")
		}
	}
}

// cacheReady reports whether the cache may be used now. Pending
// invalidations are replayed first; the cache stays bypassed until they
// have all been applied.
func (c *Coordinator) cacheReady(ctx context.Context) bool {
	c.mu.Lock()
	if c.degradedLocked(c.now()) {
		c.mu.Unlock()
		cacheOps.WithLabelValues("skip").Inc()
		return false
	}
	keys := c.pending.Keys()
	seqs := make([]uint64, len(keys))
	for i, k := range keys {
		seqs[i], _ = c.pending.Peek(k)
	}
	c.mu.Unlock()

	if len(keys) == 0 {
		return true
	}
	if err := c.purge(ctx, keys...); err != nil {
		c.cacheFailed("replay", strings.Join(keys, ","), err)
		return false
	}
	c.cacheOK()

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, k := range keys {
		// A newer invalidation of k arrived during the replay; keep it.
		if s, ok := c.pending.Peek(k); ok && s == seqs[i] {
			c.pending.Remove(k)
		}
	}
	return c.pending.Len() == 0
}

type lookupResult int

const (
	lookupUnavailable lookupResult = iota
	lookupMiss
	lookupHit
)

func (c *Coordinator) lookup(ctx context.Context, key string) (string, lookupResult) {
	if !c.cacheReady(ctx) {
		return "", lookupUnavailable
	}
	cctx, cancel := context.WithTimeout(ctx, c.Opts.CacheTimeout)
	defer cancel()

	v, err := c.Cache.Get(cctx, key)
	switch {
	case err == nil:
		c.hits.Add(1)
		cacheOps.WithLabelValues("hit").Inc()
		c.cacheOK()
		return v, lookupHit
	case errors.Is(err, cache.ErrMiss):
		c.misses.Add(1)
		cacheOps.WithLabelValues("miss").Inc()
		c.cacheOK()
		return "", lookupMiss
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about cache health.
		return "", lookupUnavailable
	default:
		c.cacheFailed("get", key, err)
		return "", lookupUnavailable
	}
}

func (c *Coordinator) store(ctx context.Context, key, val string, ttl time.Duration) bool {
	if !c.cacheReady(ctx) {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, c.Opts.CacheTimeout)
	defer cancel()

	if err := c.Cache.Set(cctx, key, val, ttl); err != nil {
		if ctx.Err() == nil {
			c.cacheFailed("set", key, err)
		}
		return false
	}
	c.sets.Add(1)
	cacheOps.WithLabelValues("set").Inc()
	c.cacheOK()
	return true
}

func (c *Coordinator) purge(ctx context.Context, keys ...string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Opts.CacheTimeout)
	defer cancel()
	return c.Cache.Purge(cctx, keys...)
}

// invalidate drops cache entries after a committed write. It runs even when
// the caller's context is already cancelled.
func (c *Coordinator) invalidate(ctx context.Context, keys ...string) {
	if c.CacheDegraded() {
		c.queue(keys...)
		return
	}
	if err := c.purge(ctx, keys...); err != nil {
		c.queue(keys...)
		c.cacheFailed("del", strings.Join(keys, ","), err)
		return
	}
	c.dels.Add(int64(len(keys)))
	cacheOps.WithLabelValues("del").Add(float64(len(keys)))
	c.cacheOK()
}

// generation returns the current generation token under gk, creating one on
// a miss. ok is false when the cache cannot be used for this read.
func (c *Coordinator) generation(ctx context.Context, gk string) (string, bool) {
	gen, res := c.lookup(ctx, gk)
	switch res {
	case lookupHit:
		if gen != "" {
			return gen, true
		}
	case lookupUnavailable:
		return "", false
	}
	gen = uuid.NewString()
	if !c.store(ctx, gk, gen, generationTTL) {
		return "", false
	}
	return gen, true
}

// readThrough serves a JSON-encoded T from the cache or loads and caches it.
// The generation is read before load runs; see the package comment.
func readThrough[T any](ctx context.Context, c *Coordinator, base string, valueKey func(gen string) string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	gen, cached := c.generation(ctx, genKey(base))
	key := ""
	if cached {
		key = valueKey(gen)
		if raw, res := c.lookup(ctx, key); res == lookupHit {
			var v T
			if err := json.Unmarshal([]byte(raw), &v); err == nil {
				return v, nil
			}
			c.Log.Warn().Str("cache_key", key).Msg("discarding undecodable cache entry")
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.fallbacks.Add(1)
	cacheOps.WithLabelValues("fallback_load").Inc()

	if cached {
		if raw, err := json.Marshal(v); err == nil {
			c.store(ctx, key, string(raw), ttl)
		}
	}
	return v, nil
}

// CacheStats returns a snapshot of cache counters.
func (c *Coordinator) CacheStats() CacheStats {
	c.mu.Lock()
	pending := c.pending.Len()
	degraded := c.degradedLocked(c.now())
	c.mu.Unlock()
	return CacheStats{
		Hits:                 c.hits.Load(),
		Misses:               c.misses.Load(),
		Sets:                 c.sets.Load(),
		Deletes:              c.dels.Load(),
		Errors:               c.errs.Load(),
		FallbackLoads:        c.fallbacks.Load(),
		Degraded:             degraded,
		PendingInvalidations: pending,
	}
}

// CountRecentWarnings counts a user's warnings with warned_at >= now-window.
// The window is truncated to whole seconds and must be at least one second.
//
// The cache holds the warned_at timestamps inside the window rather than a
// number, so a cached entry is re-counted against the current time and never
// includes warnings that have since slid out of the window.
func (c *Coordinator) CountRecentWarnings(ctx context.Context, communityID, userID int64, window time.Duration) (int64, error) {
	window = window.Truncate(time.Second)
	if window <= 0 {
		return 0, ErrInvalidWindow
	}

	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "CountRecentWarnings",
		trace.WithAttributes(
			attribute.Int64("community.id", communityID),
			attribute.Int64("user.id", userID),
			attribute.Int64("window.seconds", int64(window/time.Second)),
		),
	)
	defer span.End()

	since := c.now().Add(-window)
	base := c.warningsKey(communityID, userID)
	windowKey := strconv.FormatInt(int64(window/time.Second), 10)

	times, err := readThrough(ctx, c, base,
		func(gen string) string { return base + ":" + gen + ":" + windowKey },
		window,
		func(ctx context.Context) ([]time.Time, error) {
			var out []time.Time
			err := c.read(ctx, "count_warnings", func(ctx context.Context, db *gorm.DB) error {
				var err error
				out, err = repo.ListWarningTimes(ctx, db, communityID, userID, since, c.Opts.ExcludeReversedWarnings)
				return err
			})
			return out, err
		})
	if err != nil {
		return 0, err
	}

	var n int64
	for _, t := range times {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}

// invalidateWarnings drops every cached window of a user's warnings.
func (c *Coordinator) invalidateWarnings(ctx context.Context, communityID, userID int64) {
	c.invalidate(ctx, genKey(c.warningsKey(communityID, userID)))
}

// GetEscalationConfig returns a community's escalation policy, creating the
// disabled default on first access.
func (c *Coordinator) GetEscalationConfig(ctx context.Context, communityID int64) (*domain.EscalationConfig, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "GetEscalationConfig",
		trace.WithAttributes(attribute.Int64("community.id", communityID)),
	)
	defer span.End()

	base := c.configKey(communityID, "escalation")
	cfg, err := readThrough(ctx, c, base,
		func(gen string) string { return base + ":" + gen },
		c.Opts.ConfigTTL,
		func(ctx context.Context) (domain.EscalationConfig, error) {
			var out domain.EscalationConfig
			err := c.write(ctx, "get_escalation_config", func(ctx context.Context, tx *gorm.DB) error {
				cfg, err := repo.EnsureEscalationConfig(ctx, tx, communityID, c.now())
				if err != nil {
					return err
				}
				out = *cfg
				return nil
			})
			return out, err
		})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetEscalationConfig validates and stores cfg, then invalidates the cached copy.
func (c *Coordinator) SetEscalationConfig(ctx context.Context, cfg domain.EscalationConfig) (*domain.EscalationConfig, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "SetEscalationConfig",
		trace.WithAttributes(
			attribute.Int64("community.id", cfg.CommunityID),
			attribute.Bool("enabled", cfg.Enabled),
		),
	)
	defer span.End()

	if err := validateEscalationConfig(cfg); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = c.now()
	err := c.write(ctx, "set_escalation_config", func(ctx context.Context, tx *gorm.DB) error {
		return repo.UpsertEscalationConfig(ctx, tx, &cfg)
	})
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, genKey(c.configKey(cfg.CommunityID, "escalation")))
	return &cfg, nil
}

// ResetEscalationConfig restores the default policy of a community.
func (c *Coordinator) ResetEscalationConfig(ctx context.Context, communityID int64) (*domain.EscalationConfig, error) {
	return c.SetEscalationConfig(ctx, domain.DefaultEscalationConfig(communityID))
}

func validateEscalationConfig(cfg domain.EscalationConfig) error {
	switch {
	case cfg.WarnThreshold < 1:
		return fmt.Errorf("%w: warn_threshold must be at least 1", ErrInvalidConfig)
	case cfg.WarnWindowSeconds < 1:
		return fmt.Errorf("%w: warn_window must be at least 1s", ErrInvalidConfig)
	case cfg.TimeoutWindowSeconds < 1:
		return fmt.Errorf("%w: timeout_window must be at least 1s", ErrInvalidConfig)
	case cfg.TimeoutWindow() > maxTimeout:
		return fmt.Errorf("%w: timeout_window must not exceed %s", ErrInvalidConfig, domain.FormatDuration(maxTimeout))
	}
	return nil
}

// GetModlogConfig returns the modlog channel of a community, or
// ErrModlogNotConfigured. Absence is cached too.
func (c *Coordinator) GetModlogConfig(ctx context.Context, communityID int64) (*domain.ModlogConfig, error) {
	base := c.configKey(communityID, "modlog")
	cfg, err := readThrough(ctx, c, base,
		func(gen string) string { return base + ":" + gen },
		c.Opts.ConfigTTL,
		func(ctx context.Context) (*domain.ModlogConfig, error) {
			var out *domain.ModlogConfig
			err := c.read(ctx, "get_modlog_config", func(ctx context.Context, db *gorm.DB) error {
				cfg, err := repo.GetModlogConfig(ctx, db, communityID)
				if errors.Is(err, repo.ErrNotFound) {
					return nil
				}
				out = cfg
				return err
			})
			return out, err
		})
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrModlogNotConfigured
	}
	return cfg, nil
}

// SetModlogConfig points a community's modlog at channelID.
func (c *Coordinator) SetModlogConfig(ctx context.Context, communityID, channelID int64) (*domain.ModlogConfig, error) {
	if channelID <= 0 {
		return nil, fmt.Errorf("%w: channel_id must be positive", ErrInvalidConfig)
	}
	cfg := domain.ModlogConfig{CommunityID: communityID, ChannelID: channelID, UpdatedAt: c.now()}
	err := c.write(ctx, "set_modlog_config", func(ctx context.Context, tx *gorm.DB) error {
		return repo.UpsertModlogConfig(ctx, tx, &cfg)
	})
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, genKey(c.configKey(communityID, "modlog")))
	return &cfg, nil
}

// ClearModlogConfig removes the modlog channel of a community.
func (c *Coordinator) ClearModlogConfig(ctx context.Context, communityID int64) error {
	err := c.write(ctx, "clear_modlog_config", func(ctx context.Context, tx *gorm.DB) error {
		return repo.DeleteModlogConfig(ctx, tx, communityID)
	})
	if err != nil {
		return err
	}
	c.invalidate(ctx, genKey(c.configKey(communityID, "modlog")))
	return nil
}

// InsertEscalation records esc, an AutoTimeout, unless an AutoTimeout for the
// same user already covers a warning at or after since. The check and the
// insert run in one transaction after the community's case counter is
// locked, so concurrent bursts produce a single escalation. created is false
// when the burst was already escalated; nothing is written in that case.
func (c *Coordinator) InsertEscalation(ctx context.Context, esc *domain.Case, since time.Time) (created bool, err error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "InsertEscalation",
		trace.WithAttributes(
			attribute.Int64("community.id", esc.CommunityID),
			attribute.Int64("user.id", esc.TargetUserID),
		),
	)
	defer span.End()

	err = c.write(ctx, "insert_escalation", func(ctx context.Context, tx *gorm.DB) error {
		if err := allocateCase(ctx, tx, esc, c.now); err != nil {
			return err
		}
		exists, err := repo.EscalationExists(ctx, tx, esc.CommunityID, esc.TargetUserID, since)
		if err != nil {
			return err
		}
		if exists {
			return errAlreadyEscalated
		}
		return insertCase(ctx, tx, esc)
	})
	if errors.Is(err, errAlreadyEscalated) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	casesCreated.WithLabelValues(string(esc.Kind)).Inc()
	return true, nil
}
