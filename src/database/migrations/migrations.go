package migrations

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration is one row of the data_migrations ledger.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// Migration is a data fix applied at most once per database.
type Migration struct {
	ID    string
	Apply func(tx *gorm.DB) error
}

// dataMigrations run in order. Never reorder or rename an id that shipped.
var dataMigrations = []Migration{
	{ID: "00001_backfill_balance_totals", Apply: backfillBalanceTotals},
	{ID: "00002_backfill_order_reservations", Apply: backfillOrderReservations},
}

// RunOnce applies fn inside a transaction unless migrationID is already in the
// ledger. The id is recorded in the same transaction, so a failed fn leaves no trace.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return errors.New("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	log := logrus.WithFields(map[string]interface{}{"migration": migrationID})

	return db.Transaction(func(tx *gorm.DB) error {
		var applied int64
		if err := tx.Model(&DataMigration{}).Where("id = ?", migrationID).Count(&applied).Error; err != nil {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}
		if applied > 0 {
			log.Debug("[migrations] already applied")
			return nil
		}

		started := time.Now()
		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		if err := tx.Create(&DataMigration{ID: migrationID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		log.WithField("took", time.Since(started).String()).Info("[migrations] applied")
		return nil
	})
}

// Run applies every pending data migration after AutoMigrate.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	for _, m := range dataMigrations {
		if err := RunOnce(db, m.ID, m.Apply); err != nil {
			return err
		}
	}
	return nil
}

// backfillBalanceTotals repairs rows written before total was kept in step
// with free and locked.
func backfillBalanceTotals(db *gorm.DB) error {
	return db.Exec("UPDATE balances SET total = free + locked WHERE total <> free + locked").Error
}
