package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"

	"github.com/walletwise/walletwise/backend/internal/config"
)

func newMySQL(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for MySQL")
	}
	dsn := cfg.DSN
	// time.Time columns need parseTime to scan.
	if !strings.Contains(dsn, "parseTime=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "parseTime=true"
	}
	return open(mysql.Open(dsn), cfg, "mysql")
}
