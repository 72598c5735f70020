package migrations

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PrepareLegacyOrders adapts an orders table inherited from the previous
// back-office before AutoMigrate runs: the ledger id column used to be called
// order_id and carried no unique constraint, so duplicates from retried
// requests may exist. Only the newest row per ledger id is kept.
func PrepareLegacyOrders(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}

	_, hasExternal, err := lookupColumnType(db, "orders", "external_id")
	if err != nil {
		return fmt.Errorf("inspect orders.external_id: %w", err)
	}

	legacyType, hasLegacy, err := lookupColumnType(db, "orders", "order_id")
	if err != nil {
		return fmt.Errorf("inspect orders.order_id: %w", err)
	}

	if !hasExternal && !hasLegacy {
		return nil
	}

	if !hasExternal && hasLegacy {
		if isStringy(legacyType) {
			if err := db.Exec("ALTER TABLE orders ALTER COLUMN order_id TYPE bigint USING NULLIF(order_id, '')::bigint").Error; err != nil {
				return fmt.Errorf("convert orders.order_id to bigint: %w", err)
			}
		}
		if err := db.Exec("ALTER TABLE orders RENAME COLUMN order_id TO external_id").Error; err != nil {
			return fmt.Errorf("rename orders.order_id: %w", err)
		}
	}

	res := db.Exec(`DELETE FROM orders a USING orders b
		WHERE a.external_id = b.external_id AND a.id < b.id`)
	if res.Error != nil {
		return fmt.Errorf("dedupe orders.external_id: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logrus.WithField("rows", res.RowsAffected).Warn("[migrations] removed duplicated legacy orders")
	}

	return nil
}

func lookupColumnType(db *gorm.DB, table, column string) (dataType string, exists bool, err error) {
	row := db.Raw(
		`SELECT data_type FROM information_schema.columns WHERE table_name = ? AND column_name = ?`,
		table,
		column,
	).Row()

	if scanErr := row.Scan(&dataType); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, scanErr
	}

	return dataType, true, nil
}

func isStringy(dataType string) bool {
	dataType = strings.ToLower(dataType)
	return strings.Contains(dataType, "char") || dataType == "text"
}
