package database

import (
	"fmt"

	"gorm.io/driver/sqlite"

	"github.com/walletwise/walletwise/backend/internal/config"
)

func newSQLite(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL (file path) is required for SQLite")
	}
	// SQLite serialises writers; a single connection avoids "database is locked".
	cfg.MaxOpenConns = 1
	return open(sqlite.Open(cfg.DSN), cfg, "sqlite3")
}

// NewInMemorySQLite opens a private in-memory SQLite database. Used by tests
// and the zero-config dev mode.
func NewInMemorySQLite() (*DB, error) {
	return newSQLite(config.DatabaseConfig{DSN: "file::memory:"})
}
