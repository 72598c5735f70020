package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AssetStatusActive   = "Active"
	AssetStatusDisabled = "Disabled"
)

// Asset is a currency or token the ledger can hold balances of.
type Asset struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ExternalID  int64  `gorm:"uniqueIndex;not null" json:"external_id"`
	Name        string `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Description string `gorm:"size:255" json:"description"`

	// QuantityPrecision is the number of decimal places amounts of this asset are rounded to.
	QuantityPrecision int32           `gorm:"not null;default:0" json:"quantity_precision"`
	TotalSupply       decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"total_supply"`
	Status            string          `gorm:"size:10;not null;default:Active" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Asset) TableName() string {
	return "assets"
}
