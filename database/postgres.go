package database

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"realtimechat/config"
	"realtimechat/model"
)

func PostgresConnect(s config.Settings, log zerolog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		s.PostgresHost,
		s.PostgresPort,
		s.PostgresUser,
		s.PostgresPassword,
		s.PostgresDB,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Str("host", s.PostgresHost).Str("db", s.PostgresDB).Msg("connection opened to Postgres")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info().Msg("Postgres database migrated")
	return db, nil
}

// Migrate creates or updates the tables the store and accounts use.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Message{},
		&model.AttachmentBlob{},
		&Credential{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
