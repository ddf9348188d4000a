package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pubwiki/provisioner/internal/models"
)

// PermissionRepository persists per-wiki group permission overrides.
type PermissionRepository interface {
	// ReplaceAll swaps the full permission set of a wiki in one transaction.
	ReplaceAll(ctx context.Context, wikiID uint64, perms []models.GroupPermission) error
	// ListByWiki returns all permission rows of a wiki in stable order.
	ListByWiki(ctx context.Context, wikiID uint64) ([]models.GroupPermission, error)
	// DeleteByWiki removes all permission rows of a wiki.
	DeleteByWiki(ctx context.Context, wikiID uint64) error
}

type permissionRepository struct {
	db *sqlx.DB
}

// NewPermissionRepository creates a permission repository backed by MariaDB.
func NewPermissionRepository(db *sqlx.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) ReplaceAll(ctx context.Context, wikiID uint64, perms []models.GroupPermission) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM wiki_group_permissions WHERE wiki_id = ?`, wikiID); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}

	query := `
		INSERT INTO wiki_group_permissions (wiki_id, group_name, permission, allowed)
		VALUES (?, ?, ?, ?)`
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, query, wikiID, p.GroupName, p.Permission, p.Allowed); err != nil {
			return fmt.Errorf("failed to insert permission: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permissions: %w", err)
	}
	return nil
}

func (r *permissionRepository) ListByWiki(ctx context.Context, wikiID uint64) ([]models.GroupPermission, error) {
	perms := []models.GroupPermission{}
	query := `
		SELECT wiki_id, group_name, permission, allowed
		FROM wiki_group_permissions
		WHERE wiki_id = ?
		ORDER BY group_name, permission`

	if err := r.db.SelectContext(ctx, &perms, query, wikiID); err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	return perms, nil
}

func (r *permissionRepository) DeleteByWiki(ctx context.Context, wikiID uint64) error {
	query := `DELETE FROM wiki_group_permissions WHERE wiki_id = ?`
	if _, err := r.db.ExecContext(ctx, query, wikiID); err != nil {
		return fmt.Errorf("failed to delete permissions: %w", err)
	}
	return nil
}
