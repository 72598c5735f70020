package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	InstrumentStatusActive   = "Active"
	InstrumentStatusDisabled = "Disabled"
)

var ErrSameBaseAndQuote = errors.New("instrument base and quote asset must differ")

// Instrument is a tradable pair. The ledger knows it under two ids: the broker-side
// id used for fees and the exchange-side id used by the matching venue.
type Instrument struct {
	ID                   uint   `gorm:"primaryKey" json:"id"`
	BrokerInstrumentID   int64  `gorm:"uniqueIndex;not null" json:"broker_instrument_id"`
	ExchangeInstrumentID int64  `gorm:"index" json:"exchange_instrument_id"`
	Symbol               string `gorm:"size:50;uniqueIndex;not null" json:"symbol"`
	Description          string `gorm:"size:255" json:"description"`

	BaseAssetID  uint   `gorm:"not null;index" json:"base_asset_id"`
	BaseAsset    *Asset `gorm:"foreignKey:BaseAssetID" json:"base_asset,omitempty"`
	QuoteAssetID uint   `gorm:"not null;index" json:"quote_asset_id"`
	QuoteAsset   *Asset `gorm:"foreignKey:QuoteAssetID" json:"quote_asset,omitempty"`

	PricePrecision    int32           `gorm:"not null;default:0" json:"price_precision"`
	QuantityPrecision int32           `gorm:"not null;default:0" json:"quantity_precision"`
	MinQuantity       decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"min_quantity"`
	MaxQuantity       decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"max_quantity"`
	Status            string          `gorm:"size:10;not null;default:Active" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Instrument) TableName() string {
	return "instruments"
}

// Validate checks the pair references two distinct assets.
func (i *Instrument) Validate() error {
	if i.BaseAssetID == i.QuoteAssetID {
		return ErrSameBaseAndQuote
	}
	return nil
}
