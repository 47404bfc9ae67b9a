package database

import (
	"fmt"

	"gorm.io/driver/postgres"

	"github.com/walletwise/walletwise/backend/internal/config"
)

func newPostgreSQL(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for PostgreSQL")
	}
	return open(postgres.Open(cfg.DSN), cfg, "postgres")
}
