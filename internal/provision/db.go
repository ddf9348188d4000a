package provision

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"

	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
	"github.com/pubwiki/provisioner/internal/validate"
)

// sharedGrants are the privileges the per-wiki user needs on the shared
// MediaWiki tables (central accounts and OAuth).
var sharedGrants = []struct {
	privileges string
	table      string
}{
	{"SELECT, UPDATE, INSERT", "user"},
	{"SELECT, UPDATE, INSERT, DELETE", "user_properties"},
	{"SELECT, UPDATE, INSERT", "actor"},
	{"SELECT", "oauth_registered_consumer"},
	{"SELECT", "oauth_accepted_consumer"},
	{"SELECT", "oauth2_access_tokens"},
}

// ProvisionDB creates the wiki database and its dedicated user and grants it
// the shared-table privileges. Identifiers are never escaped: anything outside
// the whitelist is rejected before any statement runs. Each statement is sent
// on its own so a connection never executes a multi-statement string.
func ProvisionDB(ctx context.Context, db *sqlx.DB, dbName, dbUser, dbPassword, sharedDBName string) error {
	if err := validate.Identifier(dbName); err != nil {
		return err
	}
	if err := validate.Identifier(dbUser); err != nil {
		return err
	}
	if err := validate.Identifier(sharedDBName); err != nil {
		return err
	}
	pw, err := escapeStringLiteral(dbPassword)
	if err != nil {
		return err
	}

	stmts := []string{
		"CREATE DATABASE IF NOT EXISTS `" + dbName + "`",
		"CREATE USER IF NOT EXISTS '" + dbUser + "'@'%' IDENTIFIED BY '" + pw + "'",
		"GRANT ALL PRIVILEGES ON `" + dbName + "`.* TO '" + dbUser + "'@'%'",
	}
	for _, g := range sharedGrants {
		stmts = append(stmts,
			"GRANT "+g.privileges+" ON `"+sharedDBName+"`.`"+g.table+"` TO '"+dbUser+"'@'%'")
	}
	stmts = append(stmts, "FLUSH PRIVILEGES")

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return apierrors.NewDBError(fmt.Errorf("provision db: %w", err))
		}
	}
	return nil
}

// DeprovisionDB drops the wiki user and database. Every statement is
// best-effort; rollback must not stop halfway because one object is already
// gone.
func DeprovisionDB(ctx context.Context, db *sqlx.DB, dbName, dbUser string) error {
	if err := validate.Identifier(dbName); err != nil {
		return err
	}
	if err := validate.Identifier(dbUser); err != nil {
		return err
	}

	db.ExecContext(ctx, "DROP USER IF EXISTS '"+dbUser+"'@'%'")
	db.ExecContext(ctx, "DROP DATABASE IF EXISTS `"+dbName+"`")
	db.ExecContext(ctx, "FLUSH PRIVILEGES")
	return nil
}

// escapeStringLiteral prepares s for inclusion inside single quotes by
// doubling embedded quotes. NUL and control characters are rejected outright.
func escapeStringLiteral(s string) (string, error) {
	for _, r := range s {
		if r == 0 || unicode.IsControl(r) {
			return "", apierrors.NewParamInvalid("password")
		}
	}
	return strings.ReplaceAll(s, "'", "''"), nil
}
