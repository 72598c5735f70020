package database

import (
	"fmt"
	"time"

	"backoffice/src/database/migrations"
	"backoffice/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// InitMainDB opens the read/write connection and brings the schema up to date.
// Call once at startup.
func InitMainDB() error {
	config := GetConfig()
	db, err := gorm.Open(postgres.Open(config.DatabaseURLMain),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to MainDB: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from MainDB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	MainDB = db

	logrus.Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return err
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}

// Migrate runs the pre-migration fixes, AutoMigrate for every write-side model
// and then the data migrations. Tests call it on SQLite.
func Migrate(db *gorm.DB) error {
	// Legacy order tables may hold duplicated order ids that would block the
	// unique index AutoMigrate is about to create.
	if err := migrations.PrepareLegacyOrders(db); err != nil {
		return fmt.Errorf("failed to prepare legacy orders: %w", err)
	}

	if err := db.AutoMigrate(
		&model.Account{},
		&model.Asset{},
		&model.Instrument{},
		&model.Balance{},
		&model.Order{},
		&model.OrderLog{},
		&model.TradingFee{},
		&model.Token{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run schema migrations: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}

	return nil
}
