package models

import "time"

type SessionAnswer struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"size:36;not null;uniqueIndex:idx_answer_unique" json:"session_id"`
	RoundIndex  int       `gorm:"not null;uniqueIndex:idx_answer_unique" json:"round_index"`
	UserID      string    `gorm:"size:64;not null;uniqueIndex:idx_answer_unique" json:"user_id"`
	Choice      int       `gorm:"not null" json:"choice"`
	IsCorrect   bool      `gorm:"not null" json:"is_correct"`
	Points      int       `gorm:"not null;default:0" json:"points"`
	ElapsedMs   int64     `gorm:"not null;default:0" json:"elapsed_ms"`
	SubmittedAt time.Time `json:"submitted_at"`
}
