package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/elmedianur/deutsche/internal/config"
	"github.com/elmedianur/deutsche/internal/models"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// Connect opens the database, retrying while it is still starting up.
func Connect(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	b := retry.WithMaxRetries(connectAttempts, retry.NewExponential(connectBackoff))

	var db *gorm.DB
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		db, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			log.Warn().Err(err).Str("host", cfg.DBHost).Msg("database not ready")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("database connected")
	return db, nil
}

// Models lists every table owned by the service, in migration order.
func Models() []any {
	return []any{
		&models.Admin{},
		&models.TelegramUser{},
		&models.Question{},
		&models.Option{},
		&models.SessionRecord{},
		&models.SessionRound{},
		&models.SessionParticipant{},
		&models.SessionAnswer{},
		&models.LedgerTransaction{},
		&models.DuelStats{},
	}
}

func AutoMigrate(db *gorm.DB, log zerolog.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	log.Info().Msg("database migrated")
	return nil
}
