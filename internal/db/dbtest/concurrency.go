/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dbtest

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/shopfloor/internal/db"
)

// NewFile returns a migrated SQLite database in a temp file with several
// connections, so goroutines run their transactions on separate connections.
// Write transactions begin IMMEDIATE and wait on each other the way row
// locks make them wait on postgres.
func NewFile(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shopfloor.db")
	dsn := "file:" + path + "?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL"
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

// ConcurrentWriter executes query right before each of the next n UPDATEs of
// table, inside the updating transaction, as if another writer had committed
// between the caller's read and its write. The returned func reports how
// many UPDATEs of table were attempted.
func ConcurrentWriter(t testing.TB, database *gorm.DB, table string, n int, query string, args ...any) func() int {
	t.Helper()

	var (
		mu   sync.Mutex
		seen int
	)
	err := database.Callback().Update().Before("gorm:update").Register("dbtest:concurrent_writer:"+table, func(tx *gorm.DB) {
		if tx.Error != nil || tx.Statement.Table != table {
			return
		}
		mu.Lock()
		seen++
		fire := seen <= n
		mu.Unlock()
		if !fire {
			return
		}
		if _, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context, query, args...); err != nil {
			_ = tx.AddError(fmt.Errorf("concurrent writer: %w", err))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return seen
	}
}
