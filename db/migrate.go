package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/sym"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// migration is one embedded .sql file, keyed by the numeric prefix of its
// filename (000_create_schema_migrations.sql → version "000").
type migration struct {
	version string
	name    string
	sql     []byte
}

// Migrate applies every embedded migration that is not yet recorded in
// schema_migrations. Safe to run on every startup; already-applied versions
// are skipped. A nil logger suppresses progress output.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	all, err := loadMigrations()
	if err != nil {
		return err
	}

	applied, err := appliedVersions(db)
	if err != nil {
		// No ledger yet. Migration 000 bootstraps it, so a fresh database
		// is fine as long as 000 leads the list.
		if len(all) == 0 || all[0].version != "000" {
			return errors.Wrap(err, "schema_migrations missing and no bootstrap migration")
		}
		applied = map[string]bool{}
	}

	for _, m := range all {
		if applied[m.version] {
			if logger != nil {
				logger.Debugw("Skipping migration (already applied)",
					"migration", m.name,
					"version", m.version,
				)
			}
			continue
		}

		if logger != nil {
			logger.Infow("Applying migration",
				"migration", m.name,
				"version", m.version,
			)
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}

	if logger != nil {
		logger.Infow("Migrations complete",
			"symbol", sym.DB,
			"total_migrations", len(all),
		)
	}
	return nil
}

// loadMigrations reads the embedded .sql files in lexical order, so the
// numeric prefixes define apply order.
func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var all []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		sqlBytes, err := migrationFS.ReadFile(path.Join(migrationDir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		all = append(all, migration{
			version: strings.SplitN(name, "_", 2)[0],
			name:    name,
			sql:     sqlBytes,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })
	return all, nil
}

// appliedVersions reads the schema_migrations ledger. Errors when the table
// does not exist yet; Migrate treats that as an empty ledger on a fresh
// database.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// applyMigration runs one migration and records its version in the same
// transaction, so a failed statement leaves no ledger entry behind.
func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.name)
	}

	if _, err := tx.Exec(string(m.sql)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.name)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.name)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.name)
}
