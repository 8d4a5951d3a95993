package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
)

// CreateCaseEvent appends an audit-trail row for a case.
func CreateCaseEvent(ctx context.Context, db *gorm.DB, ev *domain.CaseEvent) error {
	return db.WithContext(ctx).Omit("Case").Create(ev).Error
}

// ListCaseEvents returns the audit trail of a case, oldest first.
func ListCaseEvents(ctx context.Context, db *gorm.DB, caseID int64) ([]domain.CaseEvent, error) {
	var out []domain.CaseEvent
	err := db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at asc").
		Order("id asc").
		Find(&out).Error
	return out, err
}
