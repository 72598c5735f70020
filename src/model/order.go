package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderTypeLimit  = "Limit"
	OrderTypeMarket = "Market"

	OrderSideBuy  = "Buy"
	OrderSideSell = "Sell"

	TimeInForceGTC = "GTC"
	TimeInForceGTD = "GTD"
	TimeInForceFOK = "FOK"
	TimeInForceIOC = "IOC"
)

// Status values are reported by the ledger as free text. These are the ones
// the engine makes decisions on.
const (
	OrderStatusOpen     = "Open"
	OrderStatusExecuted = "Executed"
	OrderStatusCanceled = "Canceled"
)

// Order is an order accepted by the ledger service and mirrored locally.
type Order struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// ExternalID is the order id assigned by the ledger.
	ExternalID   int64  `gorm:"uniqueIndex;not null" json:"external_id"`
	AccountID    uint   `gorm:"index;not null" json:"account_id"`
	InstrumentID uint   `gorm:"index;not null" json:"instrument_id"`
	Symbol       string `gorm:"size:50" json:"symbol"`

	OrderType   string          `gorm:"size:10;not null" json:"order_type"`
	Side        string          `gorm:"size:4;not null" json:"side"`
	Quantity    decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"price"`
	TimeInForce string          `gorm:"size:3;not null" json:"time_in_force"`
	Status      string          `gorm:"size:50;not null;default:Open" json:"status"`

	// Funds moved from free to locked when the order was placed.
	ReservedAssetID uint            `gorm:"index" json:"reserved_asset_id"`
	ReservedAmount  decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"reserved_amount"`

	// ClientRef is the request id sent with the place-order call.
	ClientRef string `gorm:"size:36" json:"client_ref"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// IsExecuted reports whether the ledger has filled the order. Executed orders are final.
func (o *Order) IsExecuted() bool {
	return strings.EqualFold(o.Status, OrderStatusExecuted)
}

func (o *Order) IsCanceled() bool {
	return strings.EqualFold(o.Status, OrderStatusCanceled)
}

// Cancellable reports whether a cancel request may be forwarded to the ledger.
func (o *Order) Cancellable() bool {
	return !o.IsExecuted() && !o.IsCanceled()
}
