// Package validate holds the whitelist patterns every externally supplied
// string must pass before it reaches the filesystem, Redis, or SQL.
package validate

import (
	"regexp"

	"github.com/pubwiki/provisioner/internal/pkg/apierrors"
)

var (
	// Slug matches wiki slugs: lowercase alphanumerics and dashes, 3-64 chars.
	Slug = regexp.MustCompile(`^[0-9a-z-]{3,64}$`)

	// Group matches MediaWiki group names.
	Group = regexp.MustCompile(`^[0-9a-zA-Z-\*\. ]{1,64}$`)

	// Permission matches MediaWiki permission names.
	Permission = regexp.MustCompile(`^[0-9a-zA-Z-\*\. ]{1,64}$`)

	// Dir matches extension/skin directory names.
	Dir = regexp.MustCompile(`^[0-9a-zA-Z-_]{1,64}$`)

	// identifier is the conservative subset accepted for SQL identifiers that
	// get interpolated into schema-qualified statements. No escaping is ever
	// attempted; anything outside this set is rejected.
	identifier = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// reservedSlugs can never be claimed; they collide with fleet-level vhosts.
var reservedSlugs = map[string]struct{}{
	"portainer": {},
	"main":      {},
	"pubwiki":   {},
	"mcp":       {},
	"chat":      {},
}

// Check rejects s with a param_invalid error unless it matches re.
func Check(s string, re *regexp.Regexp) error {
	if re.MatchString(s) {
		return nil
	}
	return apierrors.NewParamInvalid(s)
}

// Identifier rejects s unless it is safe to interpolate into SQL wrapped in
// backticks.
func Identifier(s string) error {
	if identifier.MatchString(s) {
		return nil
	}
	return apierrors.NewParamInvalid(s)
}

// SlugReserved reports whether s is on the reserved-slug list.
func SlugReserved(s string) bool {
	_, ok := reservedSlugs[s]
	return ok
}
