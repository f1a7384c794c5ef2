package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationFiles lists the files in dir ending in suffix, sorted by name.
// Names start with a zero-padded version so name order is apply order.
func migrationFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

// ApplyMigrations runs every *.up.sql in migrationsDir that is not yet
// recorded in schema_migrations, each in its own transaction. It returns
// the names it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string, logger zerolog.Logger) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	files, err := migrationFiles(migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range files {
		migrated, err := isMigrated(ctx, db, name)
		if err != nil {
			return applied, err
		}
		if migrated {
			continue
		}
		if err := runMigration(ctx, db, filepath.Join(migrationsDir, name), func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, name)
			return err
		}); err != nil {
			return applied, err
		}
		logger.Info().Str("migration", name).Msg("applied migration")
		applied = append(applied, name)
	}
	return applied, nil
}

// RollbackMigrations runs every *.down.sql whose up migration is recorded,
// newest first, and forgets it.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, logger zerolog.Logger) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	files, err := migrationFiles(migrationsDir, ".down.sql")
	if err != nil {
		return err
	}

	for i := len(files) - 1; i >= 0; i-- {
		name := files[i]
		up := strings.TrimSuffix(name, ".down.sql") + ".up.sql"
		migrated, err := isMigrated(ctx, db, up)
		if err != nil {
			return err
		}
		if !migrated {
			continue
		}
		if err := runMigration(ctx, db, filepath.Join(migrationsDir, name), func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, up)
			return err
		}); err != nil {
			return err
		}
		logger.Info().Str("migration", name).Msg("rolled back migration")
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, path string, record func(tx *sql.Tx) error) error {
	name := filepath.Base(path)
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}
	if statement := strings.TrimSpace(string(contents)); statement != "" {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
