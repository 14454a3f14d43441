package models

import "time"

// SessionRecord is the durable history of a competitive session, written once
// the session closes. Live state is in the session store.
type SessionRecord struct {
	ID           string               `gorm:"primaryKey;size:36" json:"id"`
	Mode         string               `gorm:"size:20;not null;index" json:"mode"`
	Stake        int64                `gorm:"not null" json:"stake"`
	State        string               `gorm:"size:20;not null" json:"state"`
	CloseReason  string               `gorm:"size:20" json:"close_reason"`
	Rounds       []SessionRound       `gorm:"foreignKey:SessionID" json:"rounds,omitempty"`
	Participants []SessionParticipant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	SettledAt    *time.Time           `json:"settled_at,omitempty"`
	ClosedAt     *time.Time           `json:"closed_at,omitempty"`
}

func (SessionRecord) TableName() string { return "sessions" }

type SessionRound struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SessionID     string     `gorm:"size:36;not null;uniqueIndex:idx_round_unique" json:"session_id"`
	Index         int        `gorm:"column:round_index;not null;uniqueIndex:idx_round_unique" json:"index"`
	QuestionRef   string     `gorm:"size:64;not null" json:"question_ref"`
	CorrectChoice int        `gorm:"not null" json:"correct_choice"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClosesAt      *time.Time `json:"closes_at,omitempty"`
}
