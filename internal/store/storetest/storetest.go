// Package storetest opens throwaway repositories for tests in other packages.
package storetest

import (
	"strings"
	"testing"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/config"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open returns a repository over a private in-memory database. now may be
// nil for the real clock.
func Open(t testing.TB, now func() time.Time) *store.Repo {
	t.Helper()
	dsn := "file:" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: store.GormLogger(), TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A single connection keeps the shared in-memory database alive and
	// serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo, err := store.New(db, store.Options{Defaults: config.Defaults(), Now: now})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}
