package repository

import (
	"context"

	"backoffice/src/database"
	"backoffice/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TradingFeeRepository struct {
	db *gorm.DB
}

func NewTradingFeeRepository() *TradingFeeRepository {
	return &TradingFeeRepository{db: database.MainDB}
}

func (r *TradingFeeRepository) WithDB(db *gorm.DB) *TradingFeeRepository {
	return &TradingFeeRepository{db: db}
}

// Upsert stores the fee schedule for (account, instrument), replacing any previous one.
func (r *TradingFeeRepository) Upsert(ctx context.Context, fee *model.TradingFee) error {
	log := logger.WithFields(map[string]interface{}{
		"repo":          "TradingFeeRepository",
		"op":            "Upsert",
		"account_id":    fee.AccountID,
		"instrument_id": fee.InstrumentID,
	})

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "instrument_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"taker_fee", "maker_fee", "updated_at"}),
		}).
		Create(fee).Error
	if err != nil {
		log.WithError(err).Error("Failed to upsert trading fee")
		return err
	}

	log.Info("Trading fee stored")
	return nil
}

// Find returns the fee schedule or (nil, nil).
func (r *TradingFeeRepository) Find(ctx context.Context, accountID, instrumentID uint) (*model.TradingFee, error) {
	var fees []model.TradingFee
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND instrument_id = ?", accountID, instrumentID).
		Limit(1).
		Find(&fees).Error
	if err != nil {
		return nil, err
	}
	if len(fees) == 0 {
		return nil, nil
	}
	return &fees[0], nil
}
