package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/repo"
)

// DefaultIntentTTL bounds how long a remembered intent can be replayed.
const DefaultIntentTTL = 24 * time.Hour

func (l *Ledger) intentTTL() time.Duration {
	if l.IntentTTL > 0 {
		return l.IntentTTL
	}
	return DefaultIntentTTL
}

// LookupIntent returns the case recorded for a previous intent with the same
// (community, actor, key), or nil when there is none or it expired.
func (l *Ledger) LookupIntent(ctx context.Context, communityID, actorID int64, key string) (*domain.Case, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var out *domain.Case
	err := l.Coord.read(ctx, "lookup_intent", func(ctx context.Context, db *gorm.DB) error {
		rec, err := repo.GetIdempotency(ctx, db, communityID, actorID, key, l.Coord.now())
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		c, err := repo.GetCommunityCase(ctx, db, communityID, rec.CaseID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		out = c
		return err
	})
	return out, err
}

// RememberIntent records that key produced caseID. A concurrent retry that
// already remembered the key wins; that is not an error.
func (l *Ledger) RememberIntent(ctx context.Context, communityID, actorID int64, key string, caseID int64, status int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return l.Coord.write(ctx, "remember_intent", func(ctx context.Context, tx *gorm.DB) error {
		_, err := repo.CreateIdempotency(ctx, tx, communityID, actorID, key, caseID, status, l.Coord.now(), l.intentTTL())
		if errors.Is(err, repo.ErrDuplicate) {
			return nil
		}
		return err
	})
}

// PurgeExpiredIntents drops remembered intents past their TTL.
func (l *Ledger) PurgeExpiredIntents(ctx context.Context) (int64, error) {
	var n int64
	err := l.Coord.write(ctx, "purge_intents", func(ctx context.Context, tx *gorm.DB) error {
		var err error
		n, err = repo.PurgeExpiredIdempotency(ctx, tx, l.Coord.now())
		return err
	})
	return n, err
}
