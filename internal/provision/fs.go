// Package provision implements the side-effecting steps of the wiki
// creation pipeline and the orchestrator that sequences them.
package provision

import (
	"fmt"
	"os"
	"path/filepath"

	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
)

// specialDirs are linked shallowly: the directory itself is real so that
// per-wiki extensions and skins can be added next to the template-provided
// ones.
var specialDirs = []string{"extensions", "skins"}

// MaterializeTemplate builds the wiki root at dest as a symlink farm over the
// template directory. Rerunning over a partial tree is safe: existing
// directories and links are left in place.
func MaterializeTemplate(template, dest string) error {
	if err := mkdirTolerant(dest); err != nil {
		return err
	}
	for _, special := range specialDirs {
		if err := mkdirTolerant(filepath.Join(dest, special)); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(template)
	if err != nil {
		return apierrors.NewFSError(fmt.Errorf("read template dir: %w", err))
	}

	for _, entry := range entries {
		name := entry.Name()
		srcPath := filepath.Join(template, name)

		if isSpecialDir(name) {
			children, err := os.ReadDir(srcPath)
			if err != nil {
				return apierrors.NewFSError(fmt.Errorf("read %s: %w", srcPath, err))
			}
			for _, child := range children {
				link := filepath.Join(dest, name, child.Name())
				if err := symlinkTolerant(filepath.Join(srcPath, child.Name()), link); err != nil {
					return err
				}
			}
			continue
		}

		if !entry.Type().IsRegular() && !entry.IsDir() {
			continue
		}
		if err := symlinkTolerant(srcPath, filepath.Join(dest, name)); err != nil {
			return err
		}
	}

	return nil
}

// RemoveDirIfExists deletes a directory tree, treating a missing path as
// success. Used by rollback and teardown.
func RemoveDirIfExists(path string) error {
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return apierrors.NewFSError(fmt.Errorf("remove %s: %w", path, err))
	}
	return nil
}

func isSpecialDir(name string) bool {
	for _, s := range specialDirs {
		if name == s {
			return true
		}
	}
	return false
}

func mkdirTolerant(path string) error {
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return apierrors.NewFSError(fmt.Errorf("mkdir %s: %w", path, err))
	}
	return nil
}

func symlinkTolerant(src, dest string) error {
	if err := os.Symlink(src, dest); err != nil && !os.IsExist(err) {
		return apierrors.NewFSError(fmt.Errorf("symlink %s: %w", dest, err))
	}
	return nil
}
