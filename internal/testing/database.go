package testing

import (
	"database/sql"
	"testing"

	vigildb "github.com/teranos/vigil/db"
)

// CreateTestDB opens an in-memory SQLite database with the full vigil schema
// applied and closes it when the test ends.
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := vigildb.OpenWithMigrations(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}
