package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-modcases/internal/domain"
)

// EnsureEscalationConfig returns the escalation config of communityID,
// creating it with the default values on first access.
func EnsureEscalationConfig(ctx context.Context, db *gorm.DB, communityID int64, now time.Time) (*domain.EscalationConfig, error) {
	def := domain.DefaultEscalationConfig(communityID)
	def.UpdatedAt = now
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&def).Error; err != nil {
		return nil, err
	}
	var cfg domain.EscalationConfig
	if err := db.WithContext(ctx).Where("community_id = ?", communityID).Take(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertEscalationConfig writes every field of cfg, inserting the row if needed.
func UpsertEscalationConfig(ctx context.Context, db *gorm.DB, cfg *domain.EscalationConfig) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "community_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "warn_threshold", "warn_window_seconds", "timeout_window_seconds", "updated_at",
		}),
	}).Create(cfg).Error
}

// GetModlogConfig returns the modlog config of communityID, or ErrNotFound.
func GetModlogConfig(ctx context.Context, db *gorm.DB, communityID int64) (*domain.ModlogConfig, error) {
	var cfg domain.ModlogConfig
	if err := db.WithContext(ctx).Where("community_id = ?", communityID).Take(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertModlogConfig sets the modlog channel of a community.
func UpsertModlogConfig(ctx context.Context, db *gorm.DB, cfg *domain.ModlogConfig) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "community_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_id", "updated_at"}),
	}).Create(cfg).Error
}

// DeleteModlogConfig removes the modlog config. Deleting a missing row is not
// an error.
func DeleteModlogConfig(ctx context.Context, db *gorm.DB, communityID int64) error {
	return db.WithContext(ctx).Where("community_id = ?", communityID).Delete(&domain.ModlogConfig{}).Error
}
