package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-modcases/internal/cache"
	"github.com/tbourn/go-modcases/internal/domain"
)

func TestCountRecentWarnings_CacheTransparency(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	cached := newFixtureOn(t, db, cache.NewMemStore(1000, time.Hour), CoordinatorOptions{})
	plain := newFixtureOn(t, db, nil, CoordinatorOptions{})
	align := func() { plain.clock.t = cached.clock.Now() }

	windows := []time.Duration{time.Hour, 3 * time.Hour, 24 * time.Hour}
	check := func(step string) {
		t.Helper()
		align()
		for _, w := range windows {
			a, err := cached.coord.CountRecentWarnings(ctx, 1, 7, w)
			if err != nil {
				t.Fatalf("%s: cached count: %v", step, err)
			}
			b, err := plain.coord.CountRecentWarnings(ctx, 1, 7, w)
			if err != nil {
				t.Fatalf("%s: plain count: %v", step, err)
			}
			if a != b {
				t.Fatalf("%s: window %s: cached=%d store=%d", step, w, a, b)
			}
		}
	}

	check("empty")
	for i := 0; i < 4; i++ {
		cached.warn(t, 1, 7)
		check("after warn")
		cached.clock.Advance(50 * time.Minute)
		check("after advance")
	}
	// Read twice more so the second read is served from the cache.
	check("repeat")
	if s := cached.coord.CacheStats(); s.Hits == 0 || s.FallbackLoads == 0 {
		t.Fatalf("expected both hits and loads, got %+v", s)
	}
}

func TestCountRecentWarnings_CachedEntrySlidesWithNow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemStore(100, time.Hour), CoordinatorOptions{})

	f.warn(t, 1, 7)
	f.clock.Advance(2 * time.Hour)
	f.warn(t, 1, 7)

	n, err := f.coord.CountRecentWarnings(ctx, 1, 7, 3*time.Hour)
	if err != nil || n != 2 {
		t.Fatalf("count = %d, %v; want 2", n, err)
	}
	// No writes happen, so the next read is a hit on the same entry but the
	// first warning has slid out of the window.
	f.clock.Advance(90 * time.Minute)
	hits := f.coord.CacheStats().Hits
	n, err = f.coord.CountRecentWarnings(ctx, 1, 7, 3*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v; want 1", n, err)
	}
	if f.coord.CacheStats().Hits <= hits {
		t.Fatalf("expected a cache hit")
	}
}

func TestCountRecentWarnings_InvalidWindow(t *testing.T) {
	f := newFixture(t, nil, CoordinatorOptions{})
	for _, w := range []time.Duration{0, -time.Hour, 500 * time.Millisecond} {
		if _, err := f.coord.CountRecentWarnings(context.Background(), 1, 7, w); !errors.Is(err, ErrInvalidWindow) || !errors.Is(err, ErrValidation) {
			t.Fatalf("window %s: expected ErrInvalidWindow, got %v", w, err)
		}
	}
}

func TestEscalationConfig_LazyDefaultsAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemStore(100, time.Hour), CoordinatorOptions{})

	cfg, err := f.coord.GetEscalationConfig(ctx, 5)
	if err != nil {
		t.Fatalf("GetEscalationConfig: %v", err)
	}
	def := domain.DefaultEscalationConfig(5)
	if cfg.Enabled || cfg.WarnThreshold != def.WarnThreshold || cfg.WarnWindow() != domain.DefaultWarnWindow || cfg.TimeoutWindow() != domain.DefaultTimeoutWindow {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	// Second read is served from the cache.
	if _, err := f.coord.GetEscalationConfig(ctx, 5); err != nil {
		t.Fatalf("GetEscalationConfig: %v", err)
	}
	if f.coord.CacheStats().Hits == 0 {
		t.Fatalf("expected the config to be cached")
	}

	want := domain.EscalationConfig{CommunityID: 5, Enabled: true, WarnThreshold: 5, WarnWindowSeconds: 3600, TimeoutWindowSeconds: 600}
	if _, err := f.coord.SetEscalationConfig(ctx, want); err != nil {
		t.Fatalf("SetEscalationConfig: %v", err)
	}
	got, err := f.coord.GetEscalationConfig(ctx, 5)
	if err != nil {
		t.Fatalf("GetEscalationConfig: %v", err)
	}
	if !got.Enabled || got.WarnThreshold != 5 || got.WarnWindowSeconds != 3600 || got.TimeoutWindowSeconds != 600 {
		t.Fatalf("stale config after write: %+v", got)
	}

	// Disabling must also be visible; false is a zero value.
	want.Enabled = false
	if _, err := f.coord.SetEscalationConfig(ctx, want); err != nil {
		t.Fatalf("SetEscalationConfig: %v", err)
	}
	if got, _ := f.coord.GetEscalationConfig(ctx, 5); got.Enabled {
		t.Fatalf("expected disabled config, got %+v", got)
	}

	reset, err := f.coord.ResetEscalationConfig(ctx, 5)
	if err != nil || reset.WarnThreshold != domain.DefaultWarnThreshold {
		t.Fatalf("ResetEscalationConfig = %+v, %v", reset, err)
	}
	if got, _ := f.coord.GetEscalationConfig(ctx, 5); got.WarnThreshold != domain.DefaultWarnThreshold || got.Enabled {
		t.Fatalf("expected defaults after reset, got %+v", got)
	}
}

func TestSetEscalationConfig_Validation(t *testing.T) {
	f := newFixture(t, nil, CoordinatorOptions{})
	bad := []domain.EscalationConfig{
		{CommunityID: 1, WarnThreshold: 0, WarnWindowSeconds: 60, TimeoutWindowSeconds: 60},
		{CommunityID: 1, WarnThreshold: 3, WarnWindowSeconds: 0, TimeoutWindowSeconds: 60},
		{CommunityID: 1, WarnThreshold: 3, WarnWindowSeconds: 60, TimeoutWindowSeconds: 0},
		{CommunityID: 1, WarnThreshold: 3, WarnWindowSeconds: 60, TimeoutWindowSeconds: int64(29 * 24 * 3600)},
	}
	for i, cfg := range bad {
		if _, err := f.coord.SetEscalationConfig(context.Background(), cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestModlogConfig_CachedAbsenceIsInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemStore(100, time.Hour), CoordinatorOptions{})

	if _, err := f.coord.GetModlogConfig(ctx, 3); !errors.Is(err, ErrModlogNotConfigured) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrModlogNotConfigured, got %v", err)
	}
	if _, err := f.coord.SetModlogConfig(ctx, 3, 123); err != nil {
		t.Fatalf("SetModlogConfig: %v", err)
	}
	cfg, err := f.coord.GetModlogConfig(ctx, 3)
	if err != nil || cfg.ChannelID != 123 {
		t.Fatalf("GetModlogConfig = %+v, %v", cfg, err)
	}
	if err := f.coord.ClearModlogConfig(ctx, 3); err != nil {
		t.Fatalf("ClearModlogConfig: %v", err)
	}
	if _, err := f.coord.GetModlogConfig(ctx, 3); !errors.Is(err, ErrModlogNotConfigured) {
		t.Fatalf("expected ErrModlogNotConfigured after clear, got %v", err)
	}
	if _, err := f.coord.SetModlogConfig(ctx, 3, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCoordinator_KeysAreNamespaced(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemStore(100, time.Hour)
	f := newFixture(t, mem, CoordinatorOptions{KeyPrefix: "modcases:ci"})

	if _, err := f.coord.CountRecentWarnings(ctx, 11, 22, time.Hour); err != nil {
		t.Fatalf("CountRecentWarnings: %v", err)
	}
	gen, err := mem.Get(ctx, "modcases:ci:guild:11:user:22:warnings:gen")
	if err != nil || gen == "" {
		t.Fatalf("generation key missing: %q, %v", gen, err)
	}
	if _, err := mem.Get(ctx, "modcases:ci:guild:11:user:22:warnings:"+gen+":3600"); err != nil {
		t.Fatalf("count entry missing: %v", err)
	}

	if _, err := f.coord.GetEscalationConfig(ctx, 11); err != nil {
		t.Fatalf("GetEscalationConfig: %v", err)
	}
	cgen, err := mem.Get(ctx, "modcases:ci:guild:11:config:escalation:gen")
	if err != nil {
		t.Fatalf("config generation missing: %v", err)
	}
	raw, err := mem.Get(ctx, "modcases:ci:guild:11:config:escalation:"+cgen)
	if err != nil || !strings.Contains(raw, `"warn_threshold":3`) {
		t.Fatalf("config entry = %q, %v", raw, err)
	}
}

func TestCoordinator_DegradedModeServesFromStore(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: cache.NewMemStore(100, time.Hour)}
	f := newFixture(t, fs, CoordinatorOptions{FailureThreshold: 2, Cooldown: 30 * time.Second})

	f.warn(t, 1, 7)
	f.warn(t, 1, 7)
	// Populate the cache while it is healthy.
	if n, err := f.coord.CountRecentWarnings(ctx, 1, 7, time.Hour); err != nil || n != 2 {
		t.Fatalf("count = %d, %v", n, err)
	}

	fs.set(true, false)
	for i := 0; i < 2; i++ {
		n, err := f.coord.CountRecentWarnings(ctx, 1, 7, time.Hour)
		if err != nil || n != 2 {
			t.Fatalf("count while failing = %d, %v", n, err)
		}
	}
	if !f.coord.CacheDegraded() {
		t.Fatalf("expected degraded mode after repeated failures")
	}

	// The invalidation for this write cannot reach the cache.
	f.warn(t, 1, 7)
	if s := f.coord.CacheStats(); s.PendingInvalidations == 0 || !s.Degraded {
		t.Fatalf("expected a pending invalidation, got %+v", s)
	}

	fs.set(false, false)
	if n, err := f.coord.CountRecentWarnings(ctx, 1, 7, time.Hour); err != nil || n != 3 {
		t.Fatalf("count while degraded = %d, %v; want 3", n, err)
	}

	f.clock.Advance(31 * time.Second)
	if f.coord.CacheDegraded() {
		t.Fatalf("expected cooldown to elapse")
	}
	// The stale entry (2 warnings) is still in the cache under the old
	// generation; the replayed invalidation must hide it.
	if n, err := f.coord.CountRecentWarnings(ctx, 1, 7, time.Hour); err != nil || n != 3 {
		t.Fatalf("count after recovery = %d, %v; want 3", n, err)
	}
	if s := f.coord.CacheStats(); s.PendingInvalidations != 0 || s.Degraded {
		t.Fatalf("expected recovered cache, got %+v", s)
	}
}

func TestCoordinator_FailedInvalidationIsReplayed(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: cache.NewMemStore(100, time.Hour)}
	f := newFixture(t, fs, CoordinatorOptions{FailureThreshold: 5})

	f.warn(t, 1, 7)
	if n, _ := f.coord.CountRecentWarnings(ctx, 1, 7, time.Hour); n != 1 {
		t.Fatalf("count = %d; want 1", n)
	}

	fs.set(false, true)
	f.warn(t, 1, 7)
	if f.coord.CacheStats().PendingInvalidations != 1 {
		t.Fatalf("expected the failed invalidation to be queued")
	}
	// While the purge keeps failing the cache is bypassed, not trusted.
	if n, _ := f.coord.CountRecentWarnings(ctx, 1, 7, time.Hour); n != 2 {
		t.Fatalf("count = %d; want 2", n)
	}

	fs.set(false, false)
	if n, _ := f.coord.CountRecentWarnings(ctx, 1, 7, time.Hour); n != 2 {
		t.Fatalf("count = %d; want 2", n)
	}
	if f.coord.CacheStats().PendingInvalidations != 0 {
		t.Fatalf("expected pending set to drain")
	}
}

func TestCoordinator_PendingOverflowEvictsOldest(t *testing.T) {
	f := newFixture(t, nil, CoordinatorOptions{PendingSize: 2})
	f.coord.queue("a", "b", "c")
	if got := f.coord.pending.Len(); got != 2 {
		t.Fatalf("pending = %d; want 2", got)
	}
	if f.coord.pending.Contains("a") {
		t.Fatalf("oldest entry should have been evicted")
	}
}

func TestCoordinator_StoreErrorsAreRetryable(t *testing.T) {
	f := newFixture(t, nil, CoordinatorOptions{})
	sqlDB, _ := f.db.DB()
	_ = sqlDB.Close()

	_, err := f.coord.CountRecentWarnings(context.Background(), 1, 7, time.Hour)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	var se *StoreError
	if !errors.As(err, &se) || !se.Retryable() || se.Op != "count_warnings" {
		t.Fatalf("expected retryable *StoreError, got %#v", err)
	}
}
