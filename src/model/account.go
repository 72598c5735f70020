package model

import "time"

const (
	AccountStatusPending  = "Pending"
	AccountStatusVerified = "Verified"
)

// Account is a broker account mirrored from the ledger service.
// ExternalID is the ledger's account id and never changes once set.
type Account struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ExternalID   int64     `gorm:"uniqueIndex;not null" json:"external_id"`
	Name         string    `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Status       string    `gorm:"size:10;not null;default:Pending" json:"status"`
	LedgerSystem string    `gorm:"size:255" json:"ledger_system"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
