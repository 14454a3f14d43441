package models

import "time"

type SessionParticipant struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"size:36;not null;uniqueIndex:idx_participant_unique" json:"session_id"`
	UserID      string    `gorm:"size:64;not null;uniqueIndex:idx_participant_unique;index" json:"user_id"`
	JoinOrder   int       `gorm:"not null" json:"join_order"`
	Status      string    `gorm:"size:20;not null" json:"status"`
	TotalScore  int       `gorm:"not null;default:0" json:"total_score"`
	ElapsedMs   int64     `gorm:"not null;default:0" json:"elapsed_ms"`
	Rank        int       `gorm:"not null;default:0" json:"rank"`
	Payout      int64     `gorm:"not null;default:0" json:"payout"`
	PremiumDays int       `gorm:"not null;default:0" json:"premium_days"`
	JoinedAt    time.Time `json:"joined_at"`
}
