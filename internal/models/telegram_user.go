package models

import "time"

type TelegramUser struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TelegramID int64      `gorm:"not null;uniqueIndex" json:"telegram_id"`
	ChatID     int64      `gorm:"not null" json:"chat_id"`
	Username   string     `gorm:"size:100" json:"username,omitempty"`
	Nickname   string     `gorm:"size:100;not null" json:"nickname"`
	Blocked    bool       `gorm:"not null;default:false" json:"blocked"`
	BlockedAt  *time.Time `json:"blocked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
