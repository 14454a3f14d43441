package models

import "time"

type LedgerTransaction struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	AccountID      string     `gorm:"size:64;not null;index" json:"account_id"`
	Delta          int64      `gorm:"not null" json:"delta"`
	Reason         string     `gorm:"size:20;not null" json:"reason"`
	IdempotencyKey string     `gorm:"size:255;not null;uniqueIndex" json:"idempotency_key"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	Memo           string     `gorm:"size:255" json:"memo,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
}
