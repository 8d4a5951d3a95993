package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/repo"
)

func noteLookup(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNoteNotFound
	}
	return err
}

// AddUserNote stores a moderator note about a user.
func (l *Ledger) AddUserNote(ctx context.Context, communityID, userID, authorID int64, content string) (*domain.UserNote, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyNote
	}
	n := &domain.UserNote{
		CommunityID: communityID,
		UserID:      userID,
		AuthorID:    authorID,
		Content:     content,
	}
	err := l.Coord.write(ctx, "add_user_note", func(ctx context.Context, tx *gorm.DB) error {
		n.CreatedAt = l.Coord.now()
		n.UpdatedAt = n.CreatedAt
		return repo.CreateUserNote(ctx, tx, n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ListUserNotes returns the live notes about a user, oldest first.
func (l *Ledger) ListUserNotes(ctx context.Context, communityID, userID int64) ([]domain.UserNote, error) {
	var out []domain.UserNote
	err := l.Coord.read(ctx, "list_user_notes", func(ctx context.Context, db *gorm.DB) error {
		var err error
		out, err = repo.ListUserNotes(ctx, db, communityID, userID)
		return err
	})
	if out == nil {
		out = []domain.UserNote{}
	}
	return out, err
}

// EditUserNote replaces the content of a note.
func (l *Ledger) EditUserNote(ctx context.Context, communityID, noteID int64, content string) (*domain.UserNote, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyNote
	}
	var out *domain.UserNote
	err := l.Coord.write(ctx, "edit_user_note", func(ctx context.Context, tx *gorm.DB) error {
		n, err := repo.UpdateUserNote(ctx, tx, communityID, noteID, content, l.Coord.now())
		out = n
		return noteLookup(err)
	})
	return out, err
}

// DeleteUserNote removes a note. The row is soft-deleted.
func (l *Ledger) DeleteUserNote(ctx context.Context, communityID, noteID int64) error {
	return l.Coord.write(ctx, "delete_user_note", func(ctx context.Context, tx *gorm.DB) error {
		return noteLookup(repo.DeleteUserNote(ctx, tx, communityID, noteID))
	})
}

// ClearUserNotes removes every note about a user and reports how many went.
func (l *Ledger) ClearUserNotes(ctx context.Context, communityID, userID int64) (int64, error) {
	var n int64
	err := l.Coord.write(ctx, "clear_user_notes", func(ctx context.Context, tx *gorm.DB) error {
		var err error
		n, err = repo.ClearUserNotes(ctx, tx, communityID, userID)
		return err
	})
	return n, err
}
