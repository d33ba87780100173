package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteConnect opens the embedded database used for accounts and policies
// when no Postgres is configured. path may be ":memory:".
func SQLiteConnect(path string, log zerolog.Logger) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection serializes writers and keeps a :memory: database alive
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	log.Info().Str("path", path).Msg("SQLite database opened")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
