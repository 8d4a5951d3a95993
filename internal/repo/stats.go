// Package repo implements the durable store for moderation cases, backed by
// GORM. This file provides small aggregate queries used for conditional
// responses (ETag generation) and per-community summaries.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
)

// CasesStats returns aggregate metadata for a community's cases: the number
// of rows and the greatest UpdatedAt among them. When the community has no
// cases, count is 0 and maxUpdatedAt is nil.
func CasesStats(ctx context.Context, db *gorm.DB, communityID int64) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Case{}).Where("community_id = ?", communityID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// KindCount is one row of CountCasesByKind.
type KindCount struct {
	Kind   domain.CaseKind   `json:"kind"`
	Status domain.CaseStatus `json:"status"`
	Count  int64             `json:"count"`
}

// CountCasesByKind summarizes a community's cases per kind and status.
func CountCasesByKind(ctx context.Context, db *gorm.DB, communityID int64) ([]KindCount, error) {
	var out []KindCount
	err := db.WithContext(ctx).
		Model(&domain.Case{}).
		Select("kind, status, COUNT(*) AS count").
		Where("community_id = ?", communityID).
		Group("kind, status").
		Order("kind, status").
		Scan(&out).Error
	return out, err
}
