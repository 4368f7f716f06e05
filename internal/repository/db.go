package repository

import (
	"fmt"

	"github.com/oauthkit/spa-auth-service/internal/config"
	"github.com/oauthkit/spa-auth-service/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database. SQLite serves development and
// tests; Postgres is the production driver.
func Open(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch cfg.DBDriver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DBDSN), gormCfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DBDSN), gormCfg)
	default:
		return nil, fmt.Errorf("open database: unsupported driver %q", cfg.DBDriver)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Application{},
		&domain.AccessToken{},
		&domain.RefreshToken{},
	)
}
