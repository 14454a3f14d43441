// Package game holds the competitive session model and its state machine.
//
// A Session is created by the matchmaker once enough participants have paid
// their entry stake. From then on it only moves forward:
//
//	InProgress -> Grading -> InProgress (next round) ... -> Grading -> Settled -> Closed
//
// with an administrative cancel allowed to jump from any state straight to
// Closed. Methods on Session validate and apply a single transition; they do
// no I/O and never read the clock themselves, so the orchestrator decides when
// a transition happens and the session decides whether it is legal.
package game

import (
	"time"
)

type Mode string

const (
	ModeDuel       Mode = "duel"
	ModeTournament Mode = "tournament"
)

func (m Mode) Valid() bool {
	return m == ModeDuel || m == ModeTournament
}

type State string

const (
	// StateLobby is never persisted as a Session; it names the matchmaking
	// phase that precedes one.
	StateLobby      State = "lobby"
	StateInProgress State = "in_progress"
	StateGrading    State = "grading"
	StateSettled    State = "settled"
	StateClosed     State = "closed"
)

type ParticipantStatus string

const (
	ParticipantActive       ParticipantStatus = "active"
	ParticipantDisconnected ParticipantStatus = "disconnected"
	ParticipantForfeited    ParticipantStatus = "forfeited"
)

// Close reasons carried by the settlement payload.
const (
	ReasonCompleted = "completed"
	ReasonCancelled = "cancelled"
	ReasonBlocked   = "blocked"
)

type Session struct {
	ID            string        `json:"id"`
	Mode          Mode          `json:"mode"`
	State         State         `json:"state"`
	Stake         int64         `json:"stake"`
	CreatedAt     time.Time     `json:"created_at"`
	DeadlineAt    *time.Time    `json:"deadline_at,omitempty"`
	RoundDuration time.Duration `json:"round_duration"`
	Participants  []Participant `json:"participants"`
	CurrentRound  int           `json:"current_round"`
	Rounds        []Round       `json:"rounds"`
	Version       int64         `json:"version"`

	Ranking     []RankEntry `json:"ranking,omitempty"`
	CloseReason string      `json:"close_reason,omitempty"`
	SettledAt   *time.Time  `json:"settled_at,omitempty"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
}

type Participant struct {
	UserID       string            `json:"user_id"`
	EntryStake   string            `json:"entry_stake"`
	JoinOrder    int               `json:"join_order"`
	RunningScore int               `json:"running_score"`
	ElapsedSum   time.Duration     `json:"elapsed_sum"`
	Status       ParticipantStatus `json:"status"`
}

type Round struct {
	Index         int               `json:"index"`
	QuestionRef   string            `json:"question_ref"`
	CorrectChoice int               `json:"correct_choice"`
	ChoiceCount   int               `json:"choice_count"`
	OpenedAt      *time.Time        `json:"opened_at,omitempty"`
	ClosesAt      *time.Time        `json:"closes_at,omitempty"`
	Answers       map[string]Answer `json:"answers"`
	Points        map[string]int    `json:"points,omitempty"`
	Graded        bool              `json:"graded"`
}

type Answer struct {
	ParticipantID string        `json:"participant_id"`
	Choice        int           `json:"choice"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	Elapsed       time.Duration `json:"elapsed"`
}

// NewSession builds a session that has not opened its first round yet.
// Participants keep the order given; that order is the join order used by
// the ranking tie-break.
func NewSession(id string, mode Mode, stake int64, roundDuration time.Duration, participants []Participant, questionRefs []string, now time.Time) *Session {
	ps := make([]Participant, len(participants))
	for i, p := range participants {
		p.JoinOrder = i
		p.Status = ParticipantActive
		ps[i] = p
	}

	rounds := make([]Round, len(questionRefs))
	for i, ref := range questionRefs {
		rounds[i] = Round{Index: i, QuestionRef: ref, Answers: map[string]Answer{}}
	}

	return &Session{
		ID:            id,
		Mode:          mode,
		State:         StateInProgress,
		Stake:         stake,
		CreatedAt:     now,
		RoundDuration: roundDuration,
		Participants:  ps,
		Rounds:        rounds,
	}
}

func (s *Session) Participant(userID string) (*Participant, bool) {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

func (s *Session) Current() *Round {
	if s.CurrentRound < 0 || s.CurrentRound >= len(s.Rounds) {
		return nil
	}
	return &s.Rounds[s.CurrentRound]
}

func (s *Session) HasNextRound() bool {
	return s.CurrentRound+1 < len(s.Rounds)
}

func (s *Session) ActiveCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.Status == ParticipantActive {
			n++
		}
	}
	return n
}

// AllActiveAnswered reports whether every active participant has an answer
// in the current round. A round with no active participants left counts as
// fully answered.
func (s *Session) AllActiveAnswered() bool {
	r := s.Current()
	if r == nil || r.OpenedAt == nil {
		return false
	}
	for _, p := range s.Participants {
		if p.Status != ParticipantActive {
			continue
		}
		if _, ok := r.Answers[p.UserID]; !ok {
			return false
		}
	}
	return true
}

func (s *Session) Terminal() bool {
	return s.State == StateClosed
}

// Clone returns a deep copy, so callers can mutate a session read from a
// shared store without aliasing maps or slices.
func (s *Session) Clone() *Session {
	cp := *s
	if s.DeadlineAt != nil {
		t := *s.DeadlineAt
		cp.DeadlineAt = &t
	}
	if s.SettledAt != nil {
		t := *s.SettledAt
		cp.SettledAt = &t
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		cp.ClosedAt = &t
	}
	cp.Participants = append([]Participant(nil), s.Participants...)
	cp.Ranking = append([]RankEntry(nil), s.Ranking...)
	cp.Rounds = make([]Round, len(s.Rounds))
	for i, r := range s.Rounds {
		rc := r
		if r.OpenedAt != nil {
			t := *r.OpenedAt
			rc.OpenedAt = &t
		}
		if r.ClosesAt != nil {
			t := *r.ClosesAt
			rc.ClosesAt = &t
		}
		rc.Answers = make(map[string]Answer, len(r.Answers))
		for k, v := range r.Answers {
			rc.Answers[k] = v
		}
		if r.Points != nil {
			rc.Points = make(map[string]int, len(r.Points))
			for k, v := range r.Points {
				rc.Points[k] = v
			}
		}
		cp.Rounds[i] = rc
	}
	return &cp
}
