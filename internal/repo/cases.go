// Package repo implements the durable store for moderation cases, backed by
// GORM. This file provides repository functions for the Case model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition. Lifecycle rules live in services.Ledger.
//
// Error semantics:
//   - When a case is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Conditional updates return the number of rows they touched so the
//     caller can tell a lost race from success.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
)

// CreateCase inserts c. CaseNumber and KindNumber must already be allocated
// with NextCaseNumbers in the same transaction.
func CreateCase(ctx context.Context, db *gorm.DB, c *domain.Case) error {
	return db.WithContext(ctx).Create(c).Error
}

// GetCase fetches a case by its primary key, or ErrNotFound.
func GetCase(ctx context.Context, db *gorm.DB, id int64) (*domain.Case, error) {
	var c domain.Case
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCommunityCase fetches a case by id only if it belongs to communityID.
func GetCommunityCase(ctx context.Context, db *gorm.DB, communityID, id int64) (*domain.Case, error) {
	var c domain.Case
	err := db.WithContext(ctx).
		Where("community_id = ? AND id = ?", communityID, id).
		Take(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCaseByLabel fetches the case labelled kind+number ("W3") in communityID.
func GetCaseByLabel(ctx context.Context, db *gorm.DB, communityID int64, kind domain.CaseKind, number int64) (*domain.Case, error) {
	var c domain.Case
	err := db.WithContext(ctx).
		Where("community_id = ? AND kind = ? AND kind_number = ?", communityID, kind, number).
		Take(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCases returns up to limit cases of communityID in descending id order.
// A non-nil userID restricts the result to cases targeting that user; a
// positive before returns only cases with id < before (keyset cursor).
func ListCases(ctx context.Context, db *gorm.DB, communityID int64, userID *int64, before int64, limit int) ([]domain.Case, error) {
	q := db.WithContext(ctx).Where("community_id = ?", communityID)
	if userID != nil {
		q = q.Where("target_user_id = ?", *userID)
	}
	if before > 0 {
		q = q.Where("id < ?", before)
	}
	var out []domain.Case
	err := q.Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// TransitionCase moves an active case to status, applying the extra column
// updates in the same statement. The update is conditional on the case still
// being active; the returned count is 0 when another writer got there first.
func TransitionCase(ctx context.Context, db *gorm.DB, id int64, status domain.CaseStatus, fields map[string]any, now time.Time) (int64, error) {
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.Case{}).
		Where("id = ? AND status = ?", id, domain.StatusActive).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// UpdateCaseNote overwrites the note of case id regardless of status.
// Returns ErrNotFound if the case does not exist.
func UpdateCaseNote(ctx context.Context, db *gorm.DB, id int64, note string, now time.Time) error {
	return updateCaseColumn(ctx, db, id, "note", note, now)
}

// UpdateCaseReason overwrites the reason of case id regardless of status.
// Returns ErrNotFound if the case does not exist.
func UpdateCaseReason(ctx context.Context, db *gorm.DB, id int64, reason string, now time.Time) error {
	return updateCaseColumn(ctx, db, id, "reason", reason, now)
}

func updateCaseColumn(ctx context.Context, db *gorm.DB, id int64, column, value string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Case{}).
		Where("id = ?", id).
		Updates(map[string]any{column: value, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DueCursor positions ListDueCases after a case it already returned.
type DueCursor struct {
	ExpiresAt time.Time
	ID        int64
}

// ListDueCases returns active bounded cases whose expiry is at or before now,
// oldest expiry first. A non-nil after resumes past that case. It feeds the
// external expiry sweeper.
func ListDueCases(ctx context.Context, db *gorm.DB, now time.Time, after *DueCursor, limit int) ([]domain.Case, error) {
	var out []domain.Case
	q := db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", domain.StatusActive, now)
	if after != nil {
		q = q.Where("(expires_at > ? OR (expires_at = ? AND id > ?))", after.ExpiresAt, after.ExpiresAt, after.ID)
	}
	err := q.Order("expires_at asc").
		Order("id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// EscalationExists reports whether an AutoTimeout for (communityID, userID)
// was created at or after since and was triggered by a warning that is itself
// at or after since, i.e. by a warning of the burst being counted now.
// Status is ignored: a reversed AutoTimeout still consumed its burst.
func EscalationExists(ctx context.Context, db *gorm.DB, communityID, userID int64, since time.Time) (bool, error) {
	q := db.WithContext(ctx)
	burst := q.Model(&domain.Warning{}).
		Select("id").
		Where("community_id = ? AND user_id = ? AND warned_at >= ?", communityID, userID, since)

	var n int64
	err := q.Model(&domain.Case{}).
		Where("community_id = ? AND target_user_id = ? AND kind = ? AND created_at >= ?",
			communityID, userID, domain.KindAutoTimeout, since).
		Where("source_warning_id IN (?)", burst).
		Count(&n).Error
	return n > 0, err
}
