package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pubwiki/provisioner/internal/models"
	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
	"github.com/pubwiki/provisioner/internal/repository"
	"github.com/pubwiki/provisioner/internal/validate"
)

// PermissionsDoc is the wire and template format for group permission
// overrides: group name to permission list, deny overriding allow on
// duplicates.
type PermissionsDoc struct {
	Allow map[string][]string `json:"allow"`
	Deny  map[string][]string `json:"deny"`
}

// Merge validates both maps and flattens them into rows for wikiID. A
// (group, permission) pair present in both maps ends up denied.
func (d *PermissionsDoc) Merge(wikiID uint64) ([]models.GroupPermission, error) {
	combined := map[[2]string]bool{}

	apply := func(m map[string][]string, allowed bool) error {
		for group, perms := range m {
			if err := validate.Check(group, validate.Group); err != nil {
				return err
			}
			for _, p := range perms {
				if err := validate.Check(p, validate.Permission); err != nil {
					return err
				}
				combined[[2]string{group, p}] = allowed
			}
		}
		return nil
	}
	if err := apply(d.Allow, true); err != nil {
		return nil, err
	}
	if err := apply(d.Deny, false); err != nil {
		return nil, err
	}

	rows := make([]models.GroupPermission, 0, len(combined))
	for key, allowed := range combined {
		rows = append(rows, models.GroupPermission{
			WikiID:     wikiID,
			GroupName:  key[0],
			Permission: key[1],
			Allowed:    allowed,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].GroupName != rows[j].GroupName {
			return rows[i].GroupName < rows[j].GroupName
		}
		return rows[i].Permission < rows[j].Permission
	})
	return rows, nil
}

// PermissionsWriter applies a permission set to both stores: the database
// rows and the generated permissions.php the wiki includes at runtime.
type PermissionsWriter struct {
	repo      repository.PermissionRepository
	configDir string
	logger    *slog.Logger
}

// NewPermissionsWriter creates a writer rooted at configDir.
func NewPermissionsWriter(repo repository.PermissionRepository, configDir string, logger *slog.Logger) *PermissionsWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsWriter{repo: repo, configDir: configDir, logger: logger}
}

// Apply replaces the permission rows of a wiki and regenerates its
// permissions.php.
func (w *PermissionsWriter) Apply(ctx context.Context, wikiID uint64, slug string, doc *PermissionsDoc) error {
	rows, err := doc.Merge(wikiID)
	if err != nil {
		return err
	}
	if err := w.repo.ReplaceAll(ctx, wikiID, rows); err != nil {
		return apierrors.NewDBError(err)
	}

	dir := filepath.Join(w.configDir, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.logger.Warn("create config dir failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}

	var b strings.Builder
	b.WriteString("<?php\n// Auto-generated permissions file. Do NOT edit manually.\n")
	fmt.Fprintf(&b, "// Generated at %sZ\n", time.Now().UTC().Format("2006-01-02T15:04:05"))
	for _, row := range rows {
		value := "false"
		if row.Allowed {
			value = "true"
		}
		fmt.Fprintf(&b, "$wgGroupPermissions['%s']['%s'] = %s;\n", row.GroupName, row.Permission, value)
	}

	path := filepath.Join(dir, "permissions.php")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return apierrors.NewFSError(fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}
