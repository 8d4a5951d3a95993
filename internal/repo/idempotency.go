// Package repo implements the durable store for moderation cases, backed by
// GORM. This file provides repository helpers for the Idempotency model used
// to implement safe-retry semantics for POST intents.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
)

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, communityID, actorID int64, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("community_id = ? AND actor_id = ? AND key = ? AND expires_at > ?", communityID, actorID, key, now).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
// An expired record with the same key is replaced. The record expires ttl
// after now.
func CreateIdempotency(ctx context.Context, db *gorm.DB, communityID, actorID int64, key string, caseID int64, status int, now time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	if err := db.WithContext(ctx).
		Where("community_id = ? AND actor_id = ? AND key = ? AND expires_at <= ?", communityID, actorID, key, now).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}

	rec := &domain.Idempotency{
		ID:          uuid.NewString(),
		CommunityID: communityID,
		ActorID:     actorID,
		Key:         key,
		CaseID:      caseID,
		Status:      status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records that expired before now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
