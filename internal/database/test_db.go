package database

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// InitTestDB returns a migrated database in a file private to t, closed when
// the test ends.
func InitTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"), "silent")
	if err != nil {
		t.Fatalf("failed to connect test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
