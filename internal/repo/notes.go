package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
)

// CreateUserNote inserts a moderator note about a user.
func CreateUserNote(ctx context.Context, db *gorm.DB, n *domain.UserNote) error {
	return db.WithContext(ctx).Create(n).Error
}

// ListUserNotes returns the live notes about a user, oldest first.
func ListUserNotes(ctx context.Context, db *gorm.DB, communityID, userID int64) ([]domain.UserNote, error) {
	var out []domain.UserNote
	err := db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// UpdateUserNote replaces the content of a live note.
// Returns ErrNotFound if the note does not exist or was deleted.
func UpdateUserNote(ctx context.Context, db *gorm.DB, communityID, id int64, content string, now time.Time) (*domain.UserNote, error) {
	res := db.WithContext(ctx).
		Model(&domain.UserNote{}).
		Where("community_id = ? AND id = ?", communityID, id).
		Updates(map[string]any{"content": content, "updated_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	var n domain.UserNote
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// DeleteUserNote soft-deletes one note.
// Returns ErrNotFound if the note does not exist or was already deleted.
func DeleteUserNote(ctx context.Context, db *gorm.DB, communityID, id int64) error {
	res := db.WithContext(ctx).
		Where("community_id = ? AND id = ?", communityID, id).
		Delete(&domain.UserNote{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearUserNotes soft-deletes every live note about a user and returns how
// many were removed.
func ClearUserNotes(ctx context.Context, db *gorm.DB, communityID, userID int64) (int64, error) {
	res := db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Delete(&domain.UserNote{})
	return res.RowsAffected, res.Error
}
