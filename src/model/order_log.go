package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLog is a snapshot of an order taken every time its status changes.
type OrderLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	OrderID uint   `gorm:"index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	ExternalID int64           `gorm:"index" json:"external_id"`
	Symbol     string          `gorm:"size:50" json:"symbol"`
	Side       string          `gorm:"size:4" json:"side"`
	OrderType  string          `gorm:"size:10" json:"order_type"`
	Quantity   decimal.Decimal `gorm:"type:numeric(38,18)" json:"quantity"`
	Price      decimal.Decimal `gorm:"type:numeric(38,18)" json:"price"`

	Status    string    `gorm:"size:50;not null" json:"status"`
	Reason    string    `gorm:"size:255" json:"reason"` // e.g. "placed", "canceled by account", "ledger stream"
	CreatedAt time.Time `json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_logs"
}

// NewOrderLog snapshots o with the given reason.
func NewOrderLog(o *Order, reason string) OrderLog {
	return OrderLog{
		OrderID:    o.ID,
		ExternalID: o.ExternalID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		OrderType:  o.OrderType,
		Quantity:   o.Quantity,
		Price:      o.Price,
		Status:     o.Status,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
}
