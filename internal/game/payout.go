package game

import "time"

// PayoutPolicy splits the pot of entry stakes between ranked participants.
type PayoutPolicy struct {
	// HouseFeePercent is withheld from the pot before prizes.
	HouseFeePercent int
	// TournamentShares are pot percentages by rank; a duel pays rank 1 only.
	TournamentShares []int
	// TournamentPremiumDays are premium subscription days granted by rank.
	TournamentPremiumDays []int
}

func DefaultPayoutPolicy() PayoutPolicy {
	return PayoutPolicy{
		TournamentShares:      []int{50, 30, 20},
		TournamentPremiumDays: []int{7, 3, 1},
	}
}

// Pot is the total of entry stakes after the house fee.
func (p PayoutPolicy) Pot(stake int64, participants int) int64 {
	pot := stake * int64(participants)
	fee := pot * int64(p.HouseFeePercent) / 100
	return pot - fee
}

// Apply fills Payout and PremiumDays on a copy of the ranking. Rounding
// leftovers and shares of ranks nobody holds go to rank 1, so the payouts
// always sum to the pot.
func (p PayoutPolicy) Apply(mode Mode, stake int64, ranking []RankEntry) []RankEntry {
	out := append([]RankEntry(nil), ranking...)
	if len(out) == 0 {
		return out
	}
	for i := range out {
		out[i].Payout = 0
		out[i].PremiumDays = 0
	}

	prize := p.Pot(stake, len(out))
	if mode == ModeDuel {
		out[0].Payout = prize
		return out
	}

	var paid int64
	for i := 0; i < len(out) && i < len(p.TournamentShares); i++ {
		share := prize * int64(p.TournamentShares[i]) / 100
		out[i].Payout = share
		paid += share
	}
	out[0].Payout += prize - paid

	for i := 0; i < len(out) && i < len(p.TournamentPremiumDays); i++ {
		out[i].PremiumDays = p.TournamentPremiumDays[i]
	}
	return out
}

// Settlement is the payload delivered once per session when it settles or is
// cancelled.
type Settlement struct {
	SessionID string      `json:"session_id"`
	Mode      Mode        `json:"mode"`
	Ranking   []RankEntry `json:"ranking"`
	Reason    string      `json:"reason"`
	At        time.Time   `json:"at"`
}
