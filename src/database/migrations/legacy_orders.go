package migrations

import (
	"fmt"
	"strings"

	"backoffice/src/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// backfillOrderReservations fills reserved_asset_id/reserved_amount for open
// orders placed before the reservation was stored on the order, so cancel can
// release it.
func backfillOrderReservations(db *gorm.DB) error {
	var orders []model.Order
	if err := db.
		Where("reserved_asset_id IS NULL OR reserved_asset_id = 0").
		Find(&orders).Error; err != nil {
		return fmt.Errorf("load orders without reservation: %w", err)
	}

	instruments := make(map[uint]*model.Instrument)

	for i := range orders {
		o := &orders[i]
		if !o.Cancellable() {
			continue
		}

		inst, ok := instruments[o.InstrumentID]
		if !ok {
			var loaded model.Instrument
			if err := db.First(&loaded, o.InstrumentID).Error; err != nil {
				return fmt.Errorf("load instrument %d for order %d: %w", o.InstrumentID, o.ExternalID, err)
			}
			inst = &loaded
			instruments[o.InstrumentID] = inst
		}

		assetID, amount := legacyReservation(o, inst)
		if amount.IsZero() {
			continue
		}

		if err := db.Model(&model.Order{}).
			Where("id = ?", o.ID).
			Updates(map[string]interface{}{
				"reserved_asset_id": assetID,
				"reserved_amount":   amount,
			}).Error; err != nil {
			return fmt.Errorf("backfill reservation for order %d: %w", o.ExternalID, err)
		}
	}

	return nil
}

func legacyReservation(o *model.Order, inst *model.Instrument) (uint, decimal.Decimal) {
	if strings.EqualFold(o.Side, model.OrderSideBuy) {
		return inst.QuoteAssetID, o.Quantity.Mul(o.Price)
	}
	return inst.BaseAssetID, o.Quantity
}
