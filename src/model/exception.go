package model

import "time"

// Exception kinds that the replay loop knows how to re-apply.
const (
	ExceptionKindOrderInsert       = "order_insert"
	ExceptionKindDepositApply      = "deposit_apply"
	ExceptionKindOrderUnconfirmed  = "order_unconfirmed"
	ExceptionKindReservationLeaked = "reservation_leaked"
)

// Exception is a persisted operational error. Rows with a Kind carry enough
// payload to be reconciled later; ResolvedAt is set once that happened.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "backoffice"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "order_controller"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "PlaceOrder"

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`
	Level   string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	Context string `gorm:"type:jsonb" json:"context,omitempty"`

	// Reconciliation envelope
	Kind       string     `gorm:"size:50;index" json:"kind,omitempty"`
	ReplayKey  string     `gorm:"size:100;index" json:"replay_key,omitempty"`
	Payload    string     `gorm:"type:jsonb" json:"payload,omitempty"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	ResolvedAt *time.Time `gorm:"index" json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
