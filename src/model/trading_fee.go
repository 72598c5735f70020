package model

import "time"

// TradingFee is the fee schedule for one account on one instrument.
type TradingFee struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    uint      `gorm:"not null;uniqueIndex:idx_trading_fees_account_instrument" json:"account_id"`
	InstrumentID uint      `gorm:"not null;uniqueIndex:idx_trading_fees_account_instrument" json:"instrument_id"`
	TakerFee     int       `gorm:"not null;default:0" json:"taker_fee"`
	MakerFee     int       `gorm:"not null;default:0" json:"maker_fee"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (TradingFee) TableName() string {
	return "trading_fees"
}
