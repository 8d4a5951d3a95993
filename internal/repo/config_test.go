package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-modcases/internal/domain"
)

func TestEnsureEscalationConfig_LazyDefaults(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	cfg, err := EnsureEscalationConfig(ctx, db, 1, t0)
	if err != nil {
		t.Fatalf("EnsureEscalationConfig: %v", err)
	}
	if cfg.Enabled || cfg.WarnThreshold != 3 || cfg.WarnWindow() != 24*time.Hour || cfg.TimeoutWindow() != 7*24*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	var n int64
	db.Model(&domain.EscalationConfig{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one config row, got %d", n)
	}

	// Second access must not overwrite an edited row.
	cfg.Enabled = true
	cfg.WarnThreshold = 5
	if err := UpsertEscalationConfig(ctx, db, cfg); err != nil {
		t.Fatalf("UpsertEscalationConfig: %v", err)
	}
	again, err := EnsureEscalationConfig(ctx, db, 1, t0)
	if err != nil {
		t.Fatalf("EnsureEscalationConfig: %v", err)
	}
	if !again.Enabled || again.WarnThreshold != 5 {
		t.Fatalf("existing config was overwritten: %+v", again)
	}
}

func TestUpsertEscalationConfig_CanDisable(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	on := &domain.EscalationConfig{CommunityID: 2, Enabled: true, WarnThreshold: 2, WarnWindowSeconds: 60, TimeoutWindowSeconds: 120}
	if err := UpsertEscalationConfig(ctx, db, on); err != nil {
		t.Fatalf("upsert on: %v", err)
	}
	off := domain.DefaultEscalationConfig(2)
	if err := UpsertEscalationConfig(ctx, db, &off); err != nil {
		t.Fatalf("upsert off: %v", err)
	}
	got, err := EnsureEscalationConfig(ctx, db, 2, t0)
	if err != nil {
		t.Fatalf("EnsureEscalationConfig: %v", err)
	}
	if got.Enabled || got.WarnThreshold != 3 || got.WarnWindowSeconds != 86400 {
		t.Fatalf("reset did not apply: %+v", got)
	}
}

func TestModlogConfig_CRUD(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if _, err := GetModlogConfig(ctx, db, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := UpsertModlogConfig(ctx, db, &domain.ModlogConfig{CommunityID: 1, ChannelID: 100}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := UpsertModlogConfig(ctx, db, &domain.ModlogConfig{CommunityID: 1, ChannelID: 200}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	got, err := GetModlogConfig(ctx, db, 1)
	if err != nil || got.ChannelID != 200 {
		t.Fatalf("GetModlogConfig = %+v, %v", got, err)
	}
	if err := DeleteModlogConfig(ctx, db, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := DeleteModlogConfig(ctx, db, 1); err != nil {
		t.Fatalf("delete missing must not fail: %v", err)
	}
	if _, err := GetModlogConfig(ctx, db, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
