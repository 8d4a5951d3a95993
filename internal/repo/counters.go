package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-modcases/internal/domain"
)

// allCasesCode is the counter code that numbers every case in a community.
const allCasesCode = ""

// NextCaseNumbers allocates the next community-wide case number and the next
// per-kind number for kind.
//
// It must run inside a transaction. The community counter row is written
// first, so it stays locked until commit and concurrent case creation in the
// same community is serialized by the store (row lock on PostgreSQL, the
// database write lock on SQLite). Counters are always taken in the same
// order, community row then kind row, so two writers cannot deadlock.
func NextCaseNumbers(ctx context.Context, tx *gorm.DB, communityID int64, kind domain.CaseKind) (caseNumber, kindNumber int64, err error) {
	if caseNumber, err = bumpCounter(ctx, tx, communityID, allCasesCode); err != nil {
		return 0, 0, err
	}
	if kindNumber, err = bumpCounter(ctx, tx, communityID, kind.Code()); err != nil {
		return 0, 0, err
	}
	return caseNumber, kindNumber, nil
}

func bumpCounter(ctx context.Context, tx *gorm.DB, communityID int64, code string) (int64, error) {
	db := tx.WithContext(ctx)

	// Make sure the row exists; concurrent creators wait on the conflict.
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.CaseCounter{CommunityID: communityID, Code: code}).Error; err != nil {
		return 0, err
	}

	if err := db.Model(&domain.CaseCounter{}).
		Where("community_id = ? AND code = ?", communityID, code).
		UpdateColumn("value", gorm.Expr("value + 1")).Error; err != nil {
		return 0, err
	}

	var c domain.CaseCounter
	if err := db.Where("community_id = ? AND code = ?", communityID, code).Take(&c).Error; err != nil {
		return 0, err
	}
	return c.Value, nil
}
