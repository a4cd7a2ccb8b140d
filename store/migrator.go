package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Migration files live in migration/{driver}/NN__description.sql and are applied in
// patch-number order. Applied patches are recorded in schema_migration, so every
// start only runs the files it has not seen.

//go:embed migration
var migrationFS embed.FS

// MigrateFileNameSplit is the split character between the patch number and the description.
// For example, "01__note.sql".
const MigrateFileNameSplit = "__"

// parseMigrationFileName returns the patch number of a migration file.
func parseMigrationFileName(filename string) (int, error) {
	parts := strings.SplitN(filename, MigrateFileNameSplit, 2)
	if len(parts) < 2 {
		return 0, errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, filename)
	}
	patch, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, errors.Errorf("migration filename must start with a number: %s", filename)
	}
	return patch, nil
}

type migrationFile struct {
	patch int
	path  string
}

func migrationFiles(driver string) ([]migrationFile, error) {
	paths, err := fs.Glob(migrationFS, fmt.Sprintf("migration/%s/*.sql", driver))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migration files")
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no migration files for driver %q", driver)
	}

	files := make([]migrationFile, 0, len(paths))
	for _, p := range paths {
		patch, err := parseMigrationFileName(filepath.Base(p))
		if err != nil {
			return nil, err
		}
		files = append(files, migrationFile{patch: patch, path: p})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].patch < files[j].patch })
	return files, nil
}

// Migrate applies pending migration files in a single transaction.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := migrationFiles(s.driver.Type())
	if err != nil {
		return err
	}

	db := s.driver.GetDB()
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migration (patch INTEGER PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
		return errors.Wrap(err, "failed to create schema_migration table")
	}

	applied := map[int]bool{}
	rows, err := db.QueryContext(ctx, `SELECT patch FROM schema_migration`)
	if err != nil {
		return errors.Wrap(err, "failed to list applied migrations")
	}
	for rows.Next() {
		var patch int
		if err := rows.Scan(&patch); err != nil {
			rows.Close()
			return errors.Wrap(err, "failed to scan applied migration")
		}
		applied[patch] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	count := 0
	for _, f := range files {
		if applied[f.patch] {
			continue
		}
		slog.Info("applying migration", slog.String("file", f.path))
		bytes, err := migrationFS.ReadFile(f.path)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file: %s", f.path)
		}
		if err := execute(ctx, tx, string(bytes)); err != nil {
			return errors.Wrapf(err, "failed to execute migration %s", f.path)
		}
		if _, err := tx.ExecContext(ctx, s.recordMigrationStmt(), f.patch, filepath.Base(f.path)); err != nil {
			return errors.Wrap(err, "failed to record migration")
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit migrations")
	}
	if count > 0 {
		slog.Info("migrations applied", slog.Int("count", count))
	}
	return nil
}

func (s *Store) recordMigrationStmt() string {
	if s.driver.Type() == "postgres" {
		return `INSERT INTO schema_migration (patch, name) VALUES ($1, $2)`
	}
	return `INSERT INTO schema_migration (patch, name) VALUES (?, ?)`
}

// execute runs each statement of a script separately.
func execute(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, stmt)
		}
	}
	return nil
}
