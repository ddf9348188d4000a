package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pubwiki/provisioner/internal/models"
)

const wikiColumns = `id, name, slug, domain, path, language, owner_user_id, owner_username,
	visibility, status, is_featured, created_at, updated_at`

// WikiRepository persists wiki handoff rows.
type WikiRepository interface {
	// Insert adds a wiki row and returns its generated ID.
	Insert(ctx context.Context, wiki *models.Wiki) (uint64, error)
	// GetBySlug returns a wiki by slug, or nil when it does not exist.
	GetBySlug(ctx context.Context, slug string) (*models.Wiki, error)
	// SlugExists reports whether a wiki row claims the slug.
	SlugExists(ctx context.Context, slug string) (bool, error)
	// Delete removes a wiki row; permission rows cascade.
	Delete(ctx context.Context, id uint64) error
	// ListFeatured returns ready featured public wikis, newest first.
	ListFeatured(ctx context.Context, limit, offset int) ([]models.Wiki, error)
	// ListPublic returns ready public wikis, newest first.
	ListPublic(ctx context.Context, limit, offset int) ([]models.Wiki, error)
	// ListByOwner returns all wikis owned by a user, newest first.
	ListByOwner(ctx context.Context, ownerUserID uint64) ([]models.Wiki, error)
	// SetVisibility updates the visibility of a wiki.
	SetVisibility(ctx context.Context, id uint64, visibility string) error
}

type wikiRepository struct {
	db *sqlx.DB
}

// NewWikiRepository creates a wiki repository backed by MariaDB.
func NewWikiRepository(db *sqlx.DB) WikiRepository {
	return &wikiRepository{db: db}
}

func (r *wikiRepository) Insert(ctx context.Context, wiki *models.Wiki) (uint64, error) {
	query := `
		INSERT INTO wikis (name, slug, domain, path, language, owner_user_id, owner_username,
		                   visibility, status, is_featured)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		wiki.Name,
		wiki.Slug,
		wiki.Domain,
		wiki.Path,
		wiki.Language,
		wiki.OwnerUserID,
		wiki.OwnerUsername,
		wiki.Visibility,
		wiki.Status,
		wiki.IsFeatured,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert wiki: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read wiki id: %w", err)
	}
	return uint64(id), nil
}

func (r *wikiRepository) GetBySlug(ctx context.Context, slug string) (*models.Wiki, error) {
	var wiki models.Wiki
	query := `SELECT ` + wikiColumns + ` FROM wikis WHERE slug = ?`

	err := r.db.GetContext(ctx, &wiki, query, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wiki: %w", err)
	}
	return &wiki, nil
}

func (r *wikiRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	query := `SELECT COUNT(*) FROM wikis WHERE slug = ?`
	if err := r.db.GetContext(ctx, &n, query, slug); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return n > 0, nil
}

func (r *wikiRepository) Delete(ctx context.Context, id uint64) error {
	query := `DELETE FROM wikis WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete wiki: %w", err)
	}
	return nil
}

func (r *wikiRepository) ListFeatured(ctx context.Context, limit, offset int) ([]models.Wiki, error) {
	wikis := []models.Wiki{}
	query := `
		SELECT ` + wikiColumns + `
		FROM wikis
		WHERE status = 'ready' AND is_featured = 1 AND visibility = 'public'
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	if err := r.db.SelectContext(ctx, &wikis, query, clampLimit(limit), clampOffset(offset)); err != nil {
		return nil, fmt.Errorf("failed to list featured wikis: %w", err)
	}
	return wikis, nil
}

func (r *wikiRepository) ListPublic(ctx context.Context, limit, offset int) ([]models.Wiki, error) {
	wikis := []models.Wiki{}
	query := `
		SELECT ` + wikiColumns + `
		FROM wikis
		WHERE status = 'ready' AND visibility = 'public'
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	if err := r.db.SelectContext(ctx, &wikis, query, clampLimit(limit), clampOffset(offset)); err != nil {
		return nil, fmt.Errorf("failed to list public wikis: %w", err)
	}
	return wikis, nil
}

func (r *wikiRepository) ListByOwner(ctx context.Context, ownerUserID uint64) ([]models.Wiki, error) {
	wikis := []models.Wiki{}
	query := `
		SELECT ` + wikiColumns + `
		FROM wikis
		WHERE owner_user_id = ?
		ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &wikis, query, ownerUserID); err != nil {
		return nil, fmt.Errorf("failed to list wikis by owner: %w", err)
	}
	return wikis, nil
}

func (r *wikiRepository) SetVisibility(ctx context.Context, id uint64, visibility string) error {
	query := `UPDATE wikis SET visibility = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, visibility, id); err != nil {
		return fmt.Errorf("failed to set wiki visibility: %w", err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
