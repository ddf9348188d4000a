package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pubwiki/provisioner/internal/config"
	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
)

// wwwDataUID owns the config directory so PHP can read it.
const (
	wwwDataUID = 33
	wwwDataGID = 33
)

// WikiINI holds the per-wiki values rendered into pubwiki.ini.
type WikiINI struct {
	Name       string
	Slug       string
	Language   string
	DBName     string
	DBUser     string
	DBPassword string
}

// RenderWikiINI writes <configDir>/<slug>/pubwiki.ini. The file is sourced by
// the PHP entrypoint, so the format is fixed: one KEY="value" line per
// setting, every value double-quoted. bootstrapping toggles the installer
// mode and is flipped off once installPreConfigured has run.
func RenderWikiINI(configDir string, farm *config.WikifarmConfig, wiki *WikiINI, bootstrapping bool) error {
	dir := filepath.Join(configDir, wiki.Slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierrors.NewFSError(fmt.Errorf("mkdir %s: %w", dir, err))
	}
	// EPERM means a non-root run; the file is still readable, keep going.
	if err := os.Chown(dir, wwwDataUID, wwwDataGID); err != nil && !errors.Is(err, os.ErrPermission) {
		return apierrors.NewFSError(fmt.Errorf("chown %s: %w", dir, err))
	}

	hostURL := fmt.Sprintf("https://%s.%s", wiki.Slug, farm.WikiHost)
	metaNS := strings.ReplaceAll(wiki.Name, " ", "_")

	bootstrap := "false"
	if bootstrapping {
		bootstrap = "true"
	}

	// Order is part of the file format contract; keep it stable so diffs of
	// re-rendered files only show the flipped flag.
	pairs := []struct{ key, value string }{
		{"WIKI_SITE_NAME", wiki.Name},
		{"WIKI_HOST_URL", hostURL},
		{"WIKI_HOST", farm.WikiHost},
		{"WIKI_META_NAMESPACE", metaNS},
		{"WIKI_DB_HOST", farm.DBHost},
		{"WIKI_DB_NAME", wiki.DBName},
		{"WIKI_DB_USER", wiki.DBUser},
		{"WIKI_DB_PASSWORD", wiki.DBPassword},
		{"WIKI_SHARED_DB_NAME", farm.SharedDBName},
		{"WIKI_LANG", wiki.Language},
		{"WIKI_AWS_REGION", farm.AWSRegion},
		{"OPENSEARCH_USER", farm.OpenSearchUser},
		{"OPENSEARCH_PORT", farm.OpenSearchPort},
		{"OPENSEARCH_TRANSPORT", farm.OpenSearchTransport},
		{"OPENSEARCH_PASSWORD", farm.OpenSearchPassword},
		{"OPENSEARCH_ENDPOINT", farm.OpenSearchEndpoint},
		{"REDIS_PASSWORD", farm.RedisPassword},
		{"REDIS_SERVER", farm.RedisServer},
		{"WIKI_BOOTSTRAPING", bootstrap},
		{"WIKI_DEBUGGING", "true"},
	}

	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s=\"%s\"\n", p.key, p.value)
	}

	path := filepath.Join(dir, "pubwiki.ini")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return apierrors.NewFSError(fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

// WriteSlugMarker drops <targetDir>/slug.ini so the wiki root can be mapped
// back to its slug without consulting the database.
func WriteSlugMarker(targetDir, slug string) error {
	path := filepath.Join(targetDir, "slug.ini")
	if err := os.WriteFile(path, []byte("WIKI_SLUG="+slug+"\n"), 0o644); err != nil {
		return apierrors.NewFSError(fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

// RemoveConfigDir deletes <configDir>/<slug> during rollback and teardown.
func RemoveConfigDir(configDir, slug string) error {
	return RemoveDirIfExists(filepath.Join(configDir, slug))
}
