package models

import "time"

// Admin is an operator allowed into the admin API. Capabilities are loaded
// once at startup from configuration; this table only holds credentials.
type Admin struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	UserID       string    `gorm:"size:64;not null" json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}
