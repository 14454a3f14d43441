package game

import (
	"sort"
	"time"
)

const (
	DefaultBasePoints = 100
	DefaultSpeedBonus = 50
)

// Scorer turns one answer into points. It is a pure value type: the same
// inputs always give the same points, whichever event triggered grading.
type Scorer struct {
	BasePoints int
	SpeedBonus int
}

func NewScorer(basePoints, speedBonus int) Scorer {
	if basePoints <= 0 {
		basePoints = DefaultBasePoints
	}
	if speedBonus < 0 {
		speedBonus = 0
	}
	return Scorer{BasePoints: basePoints, SpeedBonus: speedBonus}
}

// Score awards BasePoints for a correct answer plus a speed bonus decaying
// linearly from SpeedBonus at elapsed 0 to 0 at elapsed = roundDuration.
// Integer arithmetic keeps the result identical on every node.
func (s Scorer) Score(a Answer, correctChoice int, elapsed, roundDuration time.Duration) int {
	if a.Choice != correctChoice {
		return 0
	}
	pts := s.BasePoints
	if s.SpeedBonus == 0 || roundDuration <= 0 {
		return pts
	}
	e := ClampElapsed(elapsed, roundDuration)
	remaining := int64(roundDuration - e)
	pts += int(int64(s.SpeedBonus) * remaining / int64(roundDuration))
	return pts
}

func ClampElapsed(elapsed, roundDuration time.Duration) time.Duration {
	if elapsed < 0 {
		return 0
	}
	if roundDuration > 0 && elapsed > roundDuration {
		return roundDuration
	}
	return elapsed
}

type RankEntry struct {
	Participant string        `json:"participant"`
	Rank        int           `json:"rank"`
	Score       int           `json:"score"`
	ElapsedSum  time.Duration `json:"elapsed_sum"`
	Payout      int64         `json:"payout"`
	PremiumDays int           `json:"premium_days,omitempty"`
}

// Rank orders participants by total score desc, elapsed sum asc, then join
// order asc. Join order is unique per session, so the order is strict.
func Rank(participants []Participant) []RankEntry {
	ps := append([]Participant(nil), participants...)
	sort.SliceStable(ps, func(i, j int) bool {
		return rankLess(ps[i], ps[j])
	})

	out := make([]RankEntry, len(ps))
	for i, p := range ps {
		out[i] = RankEntry{
			Participant: p.UserID,
			Rank:        i + 1,
			Score:       p.RunningScore,
			ElapsedSum:  p.ElapsedSum,
		}
	}
	return out
}

func rankLess(a, b Participant) bool {
	if a.RunningScore != b.RunningScore {
		return a.RunningScore > b.RunningScore
	}
	if a.ElapsedSum != b.ElapsedSum {
		return a.ElapsedSum < b.ElapsedSum
	}
	return a.JoinOrder < b.JoinOrder
}
