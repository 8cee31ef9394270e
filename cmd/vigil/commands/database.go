package commands

import (
	"database/sql"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/db"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/logger"
)

// openDatabase opens and migrates the vigil database. An empty dbPath falls
// back to the configured location, then to ./vigil.db.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		configured, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "resolve database path")
		}
		dbPath = configured
		if dbPath == "" {
			dbPath = "vigil.db"
		}
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, err
	}

	logger.DBDebugw("Database ready", "path", dbPath)
	return database, nil
}
