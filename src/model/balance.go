package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the local snapshot of what an account holds of one asset.
// Total is always Free + Locked. Version increases on every write and guards
// the conditional update used for reservations.
type Balance struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	AccountID uint            `gorm:"not null;uniqueIndex:idx_balances_account_asset" json:"account_id"`
	AssetID   uint            `gorm:"not null;uniqueIndex:idx_balances_account_asset" json:"asset_id"`
	Free      decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"free"`
	Locked    decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"locked"`
	Total     decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"total"`
	Version   int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Balance) TableName() string {
	return "balances"
}

// Consistent reports whether the row satisfies total == free + locked with no negative part.
func (b *Balance) Consistent() bool {
	if b.Free.IsNegative() || b.Locked.IsNegative() || b.Total.IsNegative() {
		return false
	}
	return b.Total.Equal(b.Free.Add(b.Locked))
}
