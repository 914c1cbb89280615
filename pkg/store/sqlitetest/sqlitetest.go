// Package sqlitetest opens throwaway in-memory stores for package tests.
package sqlitetest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

// Open returns a migrated store backed by a private in-memory SQLite
// database named after the test. The single connection keeps every query,
// transactional or not, on the same database. Foreign keys are enforced as
// they are on Postgres.
func Open(t testing.TB) *postgres.Store {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store := postgres.NewStoreFromDB(db)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
