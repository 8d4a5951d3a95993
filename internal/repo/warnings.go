package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
)

// notReversedWarnCase skips warnings whose Warn case has been reversed.
const notReversedWarnCase = "NOT EXISTS (SELECT 1 FROM cases c WHERE c.source_warning_id = warnings.id AND c.kind = ? AND c.status = ?)"

// CreateWarning appends a warning row. Warnings are never updated afterwards.
func CreateWarning(ctx context.Context, db *gorm.DB, w *domain.Warning) error {
	return db.WithContext(ctx).Create(w).Error
}

// CountWarnings returns the all-time number of warnings for a user.
func CountWarnings(ctx context.Context, db *gorm.DB, communityID, userID int64) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Warning{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Count(&n).Error
	return n, err
}

// CountWarningsSince counts a user's warnings with warned_at >= since. When
// excludeReversed is set, warnings whose Warn case was reversed are skipped.
func CountWarningsSince(ctx context.Context, db *gorm.DB, communityID, userID int64, since time.Time, excludeReversed bool) (int64, error) {
	var n int64
	err := warningsSince(ctx, db, communityID, userID, since, excludeReversed).
		Count(&n).Error
	return n, err
}

// ListWarningTimes returns the warned_at timestamps counted by
// CountWarningsSince, oldest first. The cache stores this projection so a
// cached entry can be re-counted against a later "now".
func ListWarningTimes(ctx context.Context, db *gorm.DB, communityID, userID int64, since time.Time, excludeReversed bool) ([]time.Time, error) {
	var out []time.Time
	err := warningsSince(ctx, db, communityID, userID, since, excludeReversed).
		Order("warned_at asc").
		Pluck("warned_at", &out).Error
	return out, err
}

// ListWarnings returns a user's warnings with warned_at >= since, oldest first.
func ListWarnings(ctx context.Context, db *gorm.DB, communityID, userID int64, since time.Time) ([]domain.Warning, error) {
	var out []domain.Warning
	err := warningsSince(ctx, db, communityID, userID, since, false).
		Order("warned_at asc").
		Order("id asc").
		Find(&out).Error
	return out, err
}

func warningsSince(ctx context.Context, db *gorm.DB, communityID, userID int64, since time.Time, excludeReversed bool) *gorm.DB {
	q := db.WithContext(ctx).
		Model(&domain.Warning{}).
		Where("community_id = ? AND user_id = ? AND warned_at >= ?", communityID, userID, since)
	if excludeReversed {
		q = q.Where(notReversedWarnCase, domain.KindWarn, domain.StatusReversed)
	}
	return q
}
