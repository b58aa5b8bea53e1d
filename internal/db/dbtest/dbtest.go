// Package dbtest provides isolated migrated sqlite databases for tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hostel-allocation-backend/config"
	"hostel-allocation-backend/internal/db"
)

// New returns a migrated in-memory sqlite database private to the test,
// served over a single connection.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	return open(t, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), 1)
}

// NewShared returns a migrated file-backed sqlite database with several
// connections, so concurrent transactions really contend for the write lock.
// Transactions begin IMMEDIATE and wait on the busy timeout instead of
// failing when another writer holds the lock.
func NewShared(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostel.db")
	return open(t, "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", 8)
}

func open(t *testing.T, dsn string, conns int) *gorm.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver:                 "sqlite",
		DSN:                    dsn,
		MaxOpenConns:           conns,
		MaxIdleConns:           conns,
		ConnMaxLifetimeMinutes: 60,
	}
	gormDB, err := db.Init(cfg, "silent", zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gormDB
}
