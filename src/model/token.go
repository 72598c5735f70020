package model

import "time"

const (
	TokenTypeAdmin  = "Admin"
	TokenTypeTrader = "Trader"
)

// Token is a ledger access token cached between process restarts.
type Token struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"type:text;not null" json:"-"`
	ExpiresIn int64     `gorm:"not null" json:"expires_in"` // seconds
	TokenType string    `gorm:"size:10;not null;uniqueIndex" json:"token_type"`
	CreatedAt time.Time `json:"created_at"`
}

func (Token) TableName() string {
	return "tokens"
}

func (t *Token) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Valid reports whether the token is still usable at now, treating it as expired
// skew earlier than the ledger would.
func (t *Token) Valid(now time.Time, skew time.Duration) bool {
	if t == nil || t.Token == "" {
		return false
	}
	return now.Add(skew).Before(t.ExpiresAt())
}
