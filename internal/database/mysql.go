// Package database provides database connection utilities.
package database

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MySQL wraps the shared MariaDB connection pool. The same pool serves the
// provisioner's own tables and the per-wiki schema statements.
type MySQL struct {
	db *sqlx.DB
	// migrateDSN carries multiStatements=true so one migration file can hold
	// several CREATE TABLE statements.
	migrateDSN string
}

// NewMySQL opens a connection pool for the given go-sql-driver DSN.
func NewMySQL(dsn string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}
	// TIMESTAMP columns scan into time.Time.
	cfg.ParseTime = true
	dsn = cfg.FormatDSN()

	migrateCfg := cfg.Clone()
	migrateCfg.MultiStatements = true

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQL{db: db, migrateDSN: migrateCfg.FormatDSN()}, nil
}

// DB returns the underlying pool.
func (m *MySQL) DB() *sqlx.DB {
	return m.db
}

// Close closes the connection pool.
func (m *MySQL) Close() error {
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// RunMigrations applies all pending database migrations.
func (m *MySQL) RunMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migrations source: %w", err)
	}

	mig, err := migrate.NewWithSourceInstance("iofs", source, "mysql://"+m.migrateDSN)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer mig.Close()

	if err := mig.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
