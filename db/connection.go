package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/sym"
)

// busyTimeoutMS is how long a connection waits on a locked database before
// giving up with SQLITE_BUSY. Five seconds rides out poller write bursts.
const busyTimeoutMS = 5000

// dsn builds the sqlite3 connection string for path. Connection options
// travel in the DSN rather than as PRAGMA statements so that every pooled
// connection gets them, not only the one that executed the PRAGMA.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=%d", path, busyTimeoutMS)
}

// Open opens the SQLite database at path, creating the file if absent.
// WAL keeps dashboard reads from blocking poller writes, foreign keys are
// enforced, and lock contention waits out the busy timeout instead of
// failing immediately. A nil logger keeps Open silent; tests rely on that.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrapf(err, "open database at %s", path)
	}

	if path == ":memory:" {
		// Each new pool connection to :memory: would be a fresh empty
		// database, so the pool must never grow past the first one.
		db.SetMaxOpenConns(1)
	}

	// sql.Open validates nothing. Ping so an unreachable path fails here
	// rather than at the first query.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "open database at %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened",
			"symbol", sym.DB,
			"path", path,
			"journal_mode", "wal",
			"busy_timeout_ms", busyTimeoutMS,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and brings its schema current.
// Daemon startup comes through here; tests that need real schema do too.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	return db, nil
}
