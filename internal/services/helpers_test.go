package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-modcases/internal/cache"
	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/repo"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by the coordinator under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyStore fails selected operations of the wrapped store on demand.
type flakyStore struct {
	cache.Store
	mu        sync.Mutex
	failAll   bool
	failPurge bool
}

var errBoom = errors.New("cache unreachable")

func (f *flakyStore) set(all, purge bool) {
	f.mu.Lock()
	f.failAll, f.failPurge = all, purge
	f.mu.Unlock()
}

func (f *flakyStore) state() (all, purge bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failAll, f.failPurge
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if all, _ := f.state(); all {
		return "", errBoom
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	if all, _ := f.state(); all {
		return errBoom
	}
	return f.Store.Set(ctx, key, val, ttl)
}

func (f *flakyStore) Purge(ctx context.Context, keys ...string) error {
	if all, purge := f.state(); all || purge {
		return errBoom
	}
	return f.Store.Purge(ctx, keys...)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := repo.OpenSQLite(dsn, repo.Options{LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type fixture struct {
	db    *gorm.DB
	clock *testClock
	coord *Coordinator
	mod   *Moderation
}

const systemActor = 999

func newFixtureOn(t *testing.T, db *gorm.DB, store cache.Store, opts CoordinatorOptions) *fixture {
	t.Helper()
	clock := &testClock{t: t0}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "test:" + uuid.NewString()
	}
	coord := NewCoordinator(db, store, opts)
	coord.Now = clock.Now
	ledger := NewLedger(coord, systemActor)
	return &fixture{
		db:    db,
		clock: clock,
		coord: coord,
		mod:   NewModeration(ledger, NewEvaluator(ledger)),
	}
}

func newFixture(t *testing.T, store cache.Store, opts CoordinatorOptions) *fixture {
	return newFixtureOn(t, newTestDB(t), store, opts)
}

func (f *fixture) enableEscalation(t *testing.T, community int64, threshold int, window, timeout time.Duration) {
	t.Helper()
	_, err := f.coord.SetEscalationConfig(context.Background(), domain.EscalationConfig{
		CommunityID:          community,
		Enabled:              true,
		WarnThreshold:        threshold,
		WarnWindowSeconds:    int64(window / time.Second),
		TimeoutWindowSeconds: int64(timeout / time.Second),
	})
	if err != nil {
		t.Fatalf("SetEscalationConfig: %v", err)
	}
}

func (f *fixture) warn(t *testing.T, community, user int64) *WarnOutcome {
	t.Helper()
	out, err := f.mod.Warn(context.Background(), community, user, 42, "spam")
	if err != nil {
		t.Fatalf("Warn: %v", err)
	}
	return out
}

func (f *fixture) countKind(t *testing.T, community int64, kind domain.CaseKind) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&domain.Case{}).Where("community_id = ? AND kind = ?", community, kind).Count(&n).Error; err != nil {
		t.Fatalf("count cases: %v", err)
	}
	return n
}
