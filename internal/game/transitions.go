package game

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotActiveRound      = errors.New("not_active_round")
	ErrDeadlinePassed      = errors.New("deadline_passed")
	ErrDuplicateSubmission = errors.New("duplicate")
	ErrUnknownParticipant  = errors.New("participant not in session")
	ErrInvalidChoice       = errors.New("invalid choice")
	ErrAlreadyClosed       = errors.New("session already closed")
	ErrInvalidTransition   = errors.New("invalid state transition")
)

// RejectionReason maps an answer rejection to the reason code reported to the
// transport. It returns "" for errors that are not rejections.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNotActiveRound):
		return ErrNotActiveRound.Error()
	case errors.Is(err, ErrDeadlinePassed):
		return ErrDeadlinePassed.Error()
	case errors.Is(err, ErrDuplicateSubmission):
		return ErrDuplicateSubmission.Error()
	}
	return ""
}

var transitions = map[State][]State{
	StateInProgress: {StateGrading, StateClosed},
	StateGrading:    {StateInProgress, StateSettled, StateClosed},
	StateSettled:    {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s *Session) transition(to State) error {
	if !canTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// OpenRound starts the clock on the current round. deadline_at mirrors the
// round's closes_at for as long as the session is InProgress.
func (s *Session) OpenRound(now time.Time) error {
	if s.State != StateInProgress {
		return fmt.Errorf("%w: open round in %s", ErrInvalidTransition, s.State)
	}
	r := s.Current()
	if r == nil {
		return fmt.Errorf("%w: no round %d", ErrInvalidTransition, s.CurrentRound)
	}
	if r.OpenedAt != nil {
		return fmt.Errorf("%w: round %d already open", ErrInvalidTransition, r.Index)
	}
	opened := now
	closes := now.Add(s.RoundDuration)
	r.OpenedAt = &opened
	r.ClosesAt = &closes
	s.DeadlineAt = &closes
	return nil
}

// SubmitAnswer records the first answer of a participant for the current
// round. at is the time the answer was received; anything before the round
// opened or strictly after closes_at is rejected.
func (s *Session) SubmitAnswer(userID string, choice int, at time.Time) (Answer, error) {
	if s.State != StateInProgress {
		return Answer{}, ErrNotActiveRound
	}
	p, ok := s.Participant(userID)
	if !ok {
		return Answer{}, ErrUnknownParticipant
	}
	if p.Status != ParticipantActive {
		return Answer{}, ErrNotActiveRound
	}
	r := s.Current()
	if r == nil || r.OpenedAt == nil || r.Graded {
		return Answer{}, ErrNotActiveRound
	}
	if _, dup := r.Answers[userID]; dup {
		return Answer{}, ErrDuplicateSubmission
	}
	if at.Before(*r.OpenedAt) {
		// received while an earlier round was open
		return Answer{}, ErrNotActiveRound
	}
	if at.After(*r.ClosesAt) {
		return Answer{}, ErrDeadlinePassed
	}
	if choice < 0 || (r.ChoiceCount > 0 && choice >= r.ChoiceCount) {
		return Answer{}, ErrInvalidChoice
	}

	a := Answer{
		ParticipantID: userID,
		Choice:        choice,
		SubmittedAt:   at,
		Elapsed:       at.Sub(*r.OpenedAt),
	}
	if r.Answers == nil {
		r.Answers = map[string]Answer{}
	}
	r.Answers[userID] = a
	return a, nil
}

// BeginGrading closes the current round for submissions.
func (s *Session) BeginGrading() error {
	r := s.Current()
	if r == nil || r.OpenedAt == nil {
		return fmt.Errorf("%w: no open round", ErrInvalidTransition)
	}
	if err := s.transition(StateGrading); err != nil {
		return err
	}
	s.DeadlineAt = nil
	return nil
}

// GradeCurrentRound applies the scorer to every active participant. Active
// participants without an answer score zero and are charged the full round
// duration in the elapsed tie-break; inactive participants are skipped.
func (s *Session) GradeCurrentRound(scorer Scorer) error {
	if s.State != StateGrading {
		return fmt.Errorf("%w: grade in %s", ErrInvalidTransition, s.State)
	}
	r := s.Current()
	if r == nil {
		return fmt.Errorf("%w: no round to grade", ErrInvalidTransition)
	}
	if r.Graded {
		return nil
	}

	r.Points = make(map[string]int, len(s.Participants))
	for i := range s.Participants {
		p := &s.Participants[i]
		if p.Status != ParticipantActive {
			continue
		}
		a, answered := r.Answers[p.UserID]
		if !answered {
			r.Points[p.UserID] = 0
			p.ElapsedSum += s.RoundDuration
			continue
		}
		pts := scorer.Score(a, r.CorrectChoice, a.Elapsed, s.RoundDuration)
		r.Points[p.UserID] = pts
		p.RunningScore += pts
		p.ElapsedSum += ClampElapsed(a.Elapsed, s.RoundDuration)
	}
	r.Graded = true
	return nil
}

// AdvanceRound moves a graded session to its next round and opens it.
func (s *Session) AdvanceRound(now time.Time) error {
	if s.State != StateGrading {
		return fmt.Errorf("%w: advance in %s", ErrInvalidTransition, s.State)
	}
	if r := s.Current(); r == nil || !r.Graded {
		return fmt.Errorf("%w: current round not graded", ErrInvalidTransition)
	}
	if !s.HasNextRound() {
		return fmt.Errorf("%w: no next round", ErrInvalidTransition)
	}
	if err := s.transition(StateInProgress); err != nil {
		return err
	}
	s.CurrentRound++
	return s.OpenRound(now)
}

// Settle records the final ranking after the last round was graded. A
// session nobody is active in any more settles after its current round.
func (s *Session) Settle(ranking []RankEntry, now time.Time) error {
	if s.State != StateGrading {
		return fmt.Errorf("%w: settle in %s", ErrInvalidTransition, s.State)
	}
	if r := s.Current(); r == nil || !r.Graded || (s.HasNextRound() && s.ActiveCount() > 0) {
		return fmt.Errorf("%w: rounds remaining", ErrInvalidTransition)
	}
	if err := s.transition(StateSettled); err != nil {
		return err
	}
	s.Ranking = ranking
	s.CloseReason = ReasonCompleted
	settled := now
	s.SettledAt = &settled
	return nil
}

// Close is the terminal transition, reachable from every other state.
func (s *Session) Close(reason string, now time.Time) error {
	if s.State == StateClosed {
		return ErrAlreadyClosed
	}
	if err := s.transition(StateClosed); err != nil {
		return err
	}
	s.DeadlineAt = nil
	if s.CloseReason == "" || reason != ReasonCompleted {
		s.CloseReason = reason
	}
	closed := now
	s.ClosedAt = &closed
	return nil
}

// MarkDisconnected excludes a participant from every round not yet graded.
// Points already earned stay.
func (s *Session) MarkDisconnected(userID string) error {
	return s.setStatus(userID, ParticipantDisconnected)
}

// Forfeit is a voluntary exit; the participant is ranked on what they had.
func (s *Session) Forfeit(userID string) error {
	return s.setStatus(userID, ParticipantForfeited)
}

func (s *Session) setStatus(userID string, status ParticipantStatus) error {
	if s.State == StateClosed || s.State == StateSettled {
		return ErrNotActiveRound
	}
	p, ok := s.Participant(userID)
	if !ok {
		return ErrUnknownParticipant
	}
	if p.Status == ParticipantActive {
		p.Status = status
	}
	return nil
}
