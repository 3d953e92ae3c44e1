package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"care-reminders/internal/logging"
	"care-reminders/internal/repository"
)

var dbSeq atomic.Int64

// NewTestDatabase opens a private in-memory SQLite database with the
// schema migrated. It is closed when the test finishes.
func NewTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	logging.Discard()

	dsn := fmt.Sprintf("file:care_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := repository.NewDB(dsn)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}
