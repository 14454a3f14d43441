package models

import "time"

const (
	DuelStartingRating = 1000
	DuelMinRating      = 100
	DuelMaxRating      = 3000
	DuelWinRating      = 25
	DuelLossRating     = 20
)

type DuelStats struct {
	UserID        string    `gorm:"primaryKey;size:64" json:"user_id"`
	Total         int       `gorm:"not null;default:0" json:"total"`
	Wins          int       `gorm:"not null;default:0" json:"wins"`
	Losses        int       `gorm:"not null;default:0" json:"losses"`
	CurrentStreak int       `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak int       `gorm:"not null;default:0" json:"longest_streak"`
	Rating        int       `gorm:"not null;default:1000;index" json:"rating"`
	PeakRating    int       `gorm:"not null;default:1000" json:"peak_rating"`
	StarsWon      int64     `gorm:"not null;default:0" json:"stars_won"`
	StarsLost     int64     `gorm:"not null;default:0" json:"stars_lost"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Record applies one duel outcome.
func (s *DuelStats) Record(won bool, stars int64) {
	s.Total++
	if won {
		s.Wins++
		s.CurrentStreak++
		if s.CurrentStreak > s.LongestStreak {
			s.LongestStreak = s.CurrentStreak
		}
		s.Rating += DuelWinRating
		if s.Rating > DuelMaxRating {
			s.Rating = DuelMaxRating
		}
		if s.Rating > s.PeakRating {
			s.PeakRating = s.Rating
		}
		s.StarsWon += stars
		return
	}
	s.Losses++
	s.CurrentStreak = 0
	s.Rating -= DuelLossRating
	if s.Rating < DuelMinRating {
		s.Rating = DuelMinRating
	}
	s.StarsLost += stars
}

func (s DuelStats) WinRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Total) * 100
}
