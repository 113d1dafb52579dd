package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/settlus/settlegate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestDB opens a private in-memory sqlite database with the schema applied.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNewDBUsesConfiguredDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Driver = "SQLite"
	cfg.Database.DSN = "file:" + uuid.NewString() + "?mode=memory&cache=shared"

	db, err := NewDB(cfg)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable("tenants"))
	assert.True(t, db.Migrator().HasTable("ledger_records"))
	assert.True(t, db.Migrator().HasTable("idempotency_keys"))
}
