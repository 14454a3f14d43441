package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/events"
	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/metrics"
	"github.com/elmedianur/deutsche/internal/store"
	"github.com/elmedianur/deutsche/internal/transport"
)

// errNoWrite aborts a store mutation that turned out to change nothing.
var errNoWrite = errors.New("no write")

const gradingRetryDelay = time.Second

type SessionConfig struct {
	RoundDuration    time.Duration
	DuelRounds       int
	TournamentRounds int
	DeliveryTimeout  time.Duration
}

// Recorder persists closed sessions. Submit must not block.
type Recorder interface {
	Submit(s *game.Session)
}

type SessionDeps struct {
	Store     store.Store
	Ledger    *ledger.Ledger
	Content   ContentStore
	Transport transport.Transport
	Publisher events.Publisher
	Recorder  Recorder
	Caps      *Capabilities
	Clock     clock.Clock
	Metrics   *metrics.ArenaCollector
	Logger    zerolog.Logger
}

type AnswerAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// SessionView is what players and admins may see of a live session.
// Correct choices and other players' answers stay hidden.
type SessionView struct {
	ID           string             `json:"id"`
	Mode         game.Mode          `json:"mode"`
	State        game.State         `json:"state"`
	Stake        int64              `json:"stake"`
	CreatedAt    time.Time          `json:"created_at"`
	DeadlineAt   *time.Time         `json:"deadline_at,omitempty"`
	CurrentRound int                `json:"current_round"`
	TotalRounds  int                `json:"total_rounds"`
	Participants []game.Participant `json:"participants"`
	Ranking      []game.RankEntry   `json:"ranking,omitempty"`
	CloseReason  string             `json:"close_reason,omitempty"`
	Version      int64              `json:"version"`
}

func NewSessionView(s *game.Session) SessionView {
	return SessionView{
		ID:           s.ID,
		Mode:         s.Mode,
		State:        s.State,
		Stake:        s.Stake,
		CreatedAt:    s.CreatedAt,
		DeadlineAt:   s.DeadlineAt,
		CurrentRound: s.CurrentRound,
		TotalRounds:  len(s.Rounds),
		Participants: s.Participants,
		Ranking:      s.Ranking,
		CloseReason:  s.CloseReason,
		Version:      s.Version,
	}
}

// SessionService drives live sessions: it opens rounds, grades them when
// either the deadline fires or every active participant has answered,
// settles the pot and closes the session. Every event on a session runs
// under that session's lock, so exactly one of the racing events performs a
// transition and the others observe its result.
type SessionService struct {
	cfg    SessionConfig
	scorer game.Scorer
	payout game.PayoutPolicy

	store     store.Store
	ledger    *ledger.Ledger
	content   ContentStore
	transport transport.Transport
	publisher events.Publisher
	recorder  Recorder
	caps      *Capabilities
	clock     clock.Clock
	metrics   *metrics.ArenaCollector
	log       zerolog.Logger

	locks *keyedMutex

	timerMu sync.Mutex
	timers  map[string]*clock.Timer
}

func NewSessionService(cfg SessionConfig, scorer game.Scorer, payout game.PayoutPolicy, deps SessionDeps) *SessionService {
	if deps.Transport == nil {
		deps.Transport = transport.Discard{}
	}
	return &SessionService{
		cfg:       cfg,
		scorer:    scorer,
		payout:    payout,
		store:     deps.Store,
		ledger:    deps.Ledger,
		content:   deps.Content,
		transport: deps.Transport,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		caps:      deps.Caps,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		log:       deps.Logger.With().Str("component", "session").Logger(),
		locks:     newKeyedMutex(),
		timers:    make(map[string]*clock.Timer),
	}
}

// step describes what a transition did, so side effects can follow the
// store write.
type step struct {
	graded  *transport.RoundGraded
	opened  *Question
	settled bool
}

func (s *SessionService) roundsFor(mode game.Mode) int {
	if mode == game.ModeTournament {
		return s.cfg.TournamentRounds
	}
	return s.cfg.DuelRounds
}

// StartSession creates a session for participants whose stakes are already
// debited and opens its first round.
func (s *SessionService) StartSession(ctx context.Context, mode game.Mode, stake int64, participants []game.Participant) (*game.Session, error) {
	refs, err := s.content.PickQuestions(ctx, s.roundsFor(mode))
	if err != nil {
		return nil, fmt.Errorf("pick questions: %w", err)
	}
	q, err := s.content.GetQuestion(ctx, refs[0])
	if err != nil {
		return nil, fmt.Errorf("get question %s: %w", refs[0], err)
	}

	now := s.clock.Now()
	sess := game.NewSession(uuid.NewString(), mode, stake, s.cfg.RoundDuration, participants, refs, now)
	setQuestion(&sess.Rounds[0], q)
	if err := sess.OpenRound(now); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sess.ID)
	defer unlock()

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.metrics.SessionStarted(string(mode))
	s.log.Info().
		Str("session_id", sess.ID).
		Str("mode", string(mode)).
		Int64("stake", stake).
		Int("participants", len(participants)).
		Msg("session started")

	if s.publisher != nil {
		if err := s.publisher.PublishSessionStarted(ctx, sess, now); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to publish session start")
		}
	}
	s.afterStep(ctx, sess, step{opened: &q})
	return sess, nil
}

func setQuestion(r *game.Round, q Question) {
	r.CorrectChoice = q.CorrectChoice
	r.ChoiceCount = len(q.Choices)
}

// SubmitAnswer records an answer. at is the receive time reported by the
// transport; a zero or future value is replaced by the server clock. round
// is the round the client answered, or -1 for whichever round is open; an
// answer for a round that already closed is rejected as not_active_round.
// Rejections come back as a non-accepted ack, not as an error.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, participantID string, round, choice int, at time.Time) (AnswerAck, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.clock.Now()
	if at.IsZero() || at.After(now) {
		at = now
	}

	var (
		ack AnswerAck
		st  step
	)
	sess, err := store.Mutate(ctx, s.store, sessionID, func(sess *game.Session) error {
		ack, st = AnswerAck{}, step{}
		if round >= 0 && round != sess.CurrentRound {
			ack.Reason = game.RejectionReason(game.ErrNotActiveRound)
			return errNoWrite
		}
		if _, err := sess.SubmitAnswer(participantID, choice, at); err != nil {
			if reason := game.RejectionReason(err); reason != "" {
				ack.Reason = reason
				return errNoWrite
			}
			return err
		}
		ack.Accepted = true
		if !sess.AllActiveAnswered() {
			return nil
		}
		var err error
		st, err = s.gradeInPlace(ctx, sess, now)
		return err
	})
	switch {
	case errors.Is(err, errNoWrite):
		s.metrics.AnswerRejected(ack.Reason)
		s.log.Debug().
			Str("session_id", sessionID).
			Str("user_id", participantID).
			Str("reason", ack.Reason).
			Msg("answer rejected")
		return ack, nil
	case errors.Is(err, store.ErrNotFound):
		return AnswerAck{}, ErrSessionNotFound
	case err != nil:
		return AnswerAck{}, err
	}

	s.metrics.AnswerAccepted()
	s.afterStep(ctx, sess, st)
	return ack, nil
}

// gradeInPlace moves sess from InProgress (or a Grading left behind by a
// crash) through grading to either the next open round or Settled. Payouts
// are committed to the ledger before the session records the settlement;
// the ledger keys make a re-run replay them.
func (s *SessionService) gradeInPlace(ctx context.Context, sess *game.Session, now time.Time) (step, error) {
	var st step
	if sess.State == game.StateInProgress {
		if err := sess.BeginGrading(); err != nil {
			return st, err
		}
	}
	if err := sess.GradeCurrentRound(s.scorer); err != nil {
		return st, err
	}

	r := sess.Current()
	points := make(map[string]int, len(r.Points))
	for k, v := range r.Points {
		points[k] = v
	}
	choices := make(map[string]int, len(r.Answers))
	for k, a := range r.Answers {
		choices[k] = a.Choice
	}
	st.graded = &transport.RoundGraded{
		SessionID:     sess.ID,
		Round:         r.Index,
		CorrectChoice: r.CorrectChoice,
		Points:        points,
		Choices:       choices,
		Standings:     game.Rank(sess.Participants),
	}

	if sess.HasNextRound() && sess.ActiveCount() > 0 {
		next := &sess.Rounds[sess.CurrentRound+1]
		q, err := s.content.GetQuestion(ctx, next.QuestionRef)
		if err != nil {
			return st, fmt.Errorf("get question %s: %w", next.QuestionRef, err)
		}
		setQuestion(next, q)
		if err := sess.AdvanceRound(now); err != nil {
			return st, err
		}
		st.opened = &q
		return st, nil
	}

	ranking := s.payout.Apply(sess.Mode, sess.Stake, game.Rank(sess.Participants))
	if err := s.settleLedger(ctx, sess.ID, ranking); err != nil {
		return st, err
	}
	if err := sess.Settle(ranking, now); err != nil {
		return st, err
	}
	st.settled = true
	return st, nil
}

func settlementKey(sessionID, userID string) string {
	return sessionID + "/settlement/" + userID
}

func premiumKey(sessionID, userID string) string {
	return sessionID + "/premium/" + userID
}

func refundKey(sessionID, userID string) string {
	return sessionID + "/" + userID + "/refund"
}

func (s *SessionService) settleLedger(ctx context.Context, sessionID string, ranking []game.RankEntry) error {
	var result *multierror.Error
	for _, e := range ranking {
		if e.Payout > 0 {
			_, err := s.ledger.Apply(ctx, ledger.Request{
				Account:        e.Participant,
				Delta:          e.Payout,
				Reason:         ledger.ReasonPayout,
				IdempotencyKey: settlementKey(sessionID, e.Participant),
				Memo:           "session " + sessionID,
			})
			if err != nil {
				result = multierror.Append(result, err)
			}
		}
		if e.PremiumDays > 0 {
			_, err := s.ledger.Apply(ctx, ledger.Request{
				Account:        e.Participant,
				Reason:         ledger.ReasonSubscription,
				IdempotencyKey: premiumKey(sessionID, e.Participant),
				ExtendPremium:  time.Duration(e.PremiumDays) * 24 * time.Hour,
				Memo:           fmt.Sprintf("tournament %s rank %d", sessionID, e.Rank),
			})
			if err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// afterStep runs the side effects of a committed transition. It is called
// with the session lock held.
func (s *SessionService) afterStep(ctx context.Context, sess *game.Session, st step) {
	if st.graded != nil {
		s.metrics.RoundGraded()
		s.deliverAll(ctx, sess, transport.Message{Type: transport.TypeRoundGraded, Data: *st.graded})
	}

	if st.opened != nil {
		r := sess.Current()
		s.armTimer(sess.ID, r.Index, *r.ClosesAt)
		s.deliverAll(ctx, sess, transport.Message{Type: transport.TypeRoundOpened, Data: transport.RoundOpened{
			SessionID:   sess.ID,
			Mode:        sess.Mode,
			Round:       r.Index,
			TotalRounds: len(sess.Rounds),
			Prompt:      st.opened.Prompt,
			Choices:     st.opened.Choices,
			ClosesAt:    *r.ClosesAt,
		}})
	}

	if st.settled {
		s.stopTimer(sess.ID)
		s.metrics.SessionSettled(string(sess.Mode))
		settlement := game.Settlement{
			SessionID: sess.ID,
			Mode:      sess.Mode,
			Ranking:   sess.Ranking,
			Reason:    game.ReasonCompleted,
			At:        *sess.SettledAt,
		}
		s.log.Info().Str("session_id", sess.ID).Str("winner", sess.Ranking[0].Participant).Msg("session settled")

		err := s.deliverAll(ctx, sess, transport.Message{Type: transport.TypeSettlement, Data: settlement})
		s.publishClosed(ctx, settlement)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("settlement not confirmed, closing on timeout")
			s.armClose(sess.ID)
			return
		}
		s.closeSettledLocked(ctx, sess.ID)
	}
}

func (s *SessionService) deliverAll(ctx context.Context, sess *game.Session, msg transport.Message) error {
	var result *multierror.Error
	for _, p := range sess.Participants {
		if err := s.transport.Deliver(ctx, sess.ID, p.UserID, msg); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *SessionService) publishClosed(ctx context.Context, st game.Settlement) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSessionClosed(ctx, st); err != nil {
		s.log.Warn().Err(err).Str("session_id", st.SessionID).Msg("failed to publish settlement")
	}
}

func (s *SessionService) onDeadline(sessionID string, round int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.clock.Now()
	var st step
	sess, err := store.Mutate(ctx, s.store, sessionID, func(sess *game.Session) error {
		st = step{}
		if sess.CurrentRound != round {
			return errNoWrite
		}
		if sess.State != game.StateInProgress && sess.State != game.StateGrading {
			return errNoWrite
		}
		var err error
		st, err = s.gradeInPlace(ctx, sess, now)
		return err
	})
	if errors.Is(err, errNoWrite) || errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Int("round", round).Msg("grading failed, retrying")
		s.armTimerAfter(sessionID, round, gradingRetryDelay)
		return
	}
	s.afterStep(ctx, sess, st)
}

func (s *SessionService) onCloseTimeout(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	unlock := s.locks.Lock(sessionID)
	defer unlock()
	s.closeSettledLocked(ctx, sessionID)
}

func (s *SessionService) closeSettledLocked(ctx context.Context, sessionID string) {
	now := s.clock.Now()
	sess, err := store.Mutate(ctx, s.store, sessionID, func(sess *game.Session) error {
		if sess.State != game.StateSettled {
			return errNoWrite
		}
		return sess.Close(game.ReasonCompleted, now)
	})
	if errors.Is(err, errNoWrite) || errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to close settled session")
		return
	}
	s.release(ctx, sess)
}

// release hands a closed session to the recorder and frees its live state.
func (s *SessionService) release(ctx context.Context, sess *game.Session) {
	s.stopTimer(sess.ID)
	if s.recorder != nil {
		s.recorder.Submit(sess)
	}
	if err := s.store.Delete(ctx, sess.ID); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to delete closed session")
	}
	s.metrics.SessionClosed()
	s.log.Info().Str("session_id", sess.ID).Str("reason", sess.CloseReason).Msg("session closed")
}

// CancelSession closes a session on behalf of an admin. Stakes are refunded
// unless the session had already settled.
func (s *SessionService) CancelSession(ctx context.Context, sessionID, actor string) error {
	if !s.caps.HasCapability(actor, CapCancelSession) {
		return ErrForbidden
	}
	return s.cancel(ctx, sessionID, game.ReasonCancelled, actor)
}

func (s *SessionService) cancel(ctx context.Context, sessionID, reason, actor string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	log := s.log.With().Str("session_id", sessionID).Str("actor", actor).Str("reason", reason).Logger()

	sess, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if sess.State == game.StateClosed {
		s.release(ctx, sess)
		return ErrSessionNotFound
	}

	if sess.State != game.StateSettled && s.payoutCommitted(sess) {
		// a grading committed its payouts but not its state; refunding now
		// would pay the pot twice
		log.Warn().Msg("payouts already committed, finishing settlement")
		sess, err = s.finishSettlementLocked(ctx, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if sess.State != game.StateSettled {
			return fmt.Errorf("session %s holds payouts but is %s: %w", sessionID, sess.State, game.ErrInvalidTransition)
		}
	}

	refund := sess.State != game.StateSettled
	if refund {
		if err := s.refundAll(ctx, sess); err != nil {
			log.Error().Err(err).Msg("refund incomplete, session left open")
			return fmt.Errorf("refund session %s: %w", sessionID, err)
		}
	}

	now := s.clock.Now()
	sess, err = store.Mutate(ctx, s.store, sessionID, func(sess *game.Session) error {
		return sess.Close(reason, now)
	})
	if err != nil {
		return err
	}
	s.metrics.SessionCancelled(reason)
	log.Info().Bool("refunded", refund).Msg("session cancelled")

	if refund {
		settlement := game.Settlement{
			SessionID: sess.ID,
			Mode:      sess.Mode,
			Ranking:   game.Rank(sess.Participants),
			Reason:    reason,
			At:        now,
		}
		if err := s.deliverAll(ctx, sess, transport.Message{Type: transport.TypeSessionCancelled, Data: settlement}); err != nil {
			log.Debug().Err(err).Msg("cancellation delivery failed")
		}
		s.publishClosed(ctx, settlement)
	}
	s.release(ctx, sess)
	return nil
}

func (s *SessionService) payoutCommitted(sess *game.Session) bool {
	for _, p := range sess.Participants {
		if _, ok := s.ledger.Lookup(settlementKey(sess.ID, p.UserID)); ok {
			return true
		}
		if _, ok := s.ledger.Lookup(premiumKey(sess.ID, p.UserID)); ok {
			return true
		}
	}
	return false
}

// finishSettlementLocked re-runs the grading that committed payouts without
// storing its state. The ledger replays the payouts. It returns the session
// as left by the settlement, or ErrSessionNotFound once it has closed.
func (s *SessionService) finishSettlementLocked(ctx context.Context, sessionID string) (*game.Session, error) {
	now := s.clock.Now()
	var st step
	sess, err := store.Mutate(ctx, s.store, sessionID, func(sess *game.Session) error {
		st = step{}
		if sess.State != game.StateInProgress && sess.State != game.StateGrading {
			return errNoWrite
		}
		var err error
		st, err = s.gradeInPlace(ctx, sess, now)
		return err
	})
	if err != nil && !errors.Is(err, errNoWrite) {
		return nil, fmt.Errorf("finish settlement of %s: %w", sessionID, err)
	}
	if err == nil {
		s.afterStep(ctx, sess, st)
	}

	sess, err = s.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

func (s *SessionService) refundAll(ctx context.Context, sess *game.Session) error {
	if sess.Stake <= 0 {
		return nil
	}
	var result *multierror.Error
	for _, p := range sess.Participants {
		_, err := s.ledger.Apply(ctx, ledger.Request{
			Account:        p.UserID,
			Delta:          sess.Stake,
			Reason:         ledger.ReasonRefund,
			IdempotencyKey: refundKey(sess.ID, p.UserID),
			Memo:           "session " + sess.ID,
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("refund %s: %w", p.UserID, err))
		}
	}
	return result.ErrorOrNil()
}

// Disconnect excludes a participant from the rest of the session. Points
// already earned stay.
func (s *SessionService) Disconnect(ctx context.Context, sessionID, userID string) error {
	return s.setStatus(ctx, sessionID, userID, (*game.Session).MarkDisconnected)
}

// Forfeit is a voluntary leave; the participant is ranked on what they had.
func (s *SessionService) Forfeit(ctx context.Context, sessionID, userID string) error {
	return s.setStatus(ctx, sessionID, userID, (*game.Session).Forfeit)
}

func (s *SessionService) setStatus(ctx context.Context, sessionID, userID string, apply func(*game.Session, string) error) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.clock.Now()
	var st step
	sess, err := store.Mutate(ctx, s.store, sessionID, func(sess *game.Session) error {
		st = step{}
		if err := apply(sess, userID); err != nil {
			return err
		}
		if sess.State == game.StateInProgress && sess.AllActiveAnswered() {
			var err error
			st, err = s.gradeInPlace(ctx, sess, now)
			return err
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	s.afterStep(ctx, sess, st)
	return nil
}

func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*game.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

func (s *SessionService) ListSessions(ctx context.Context) ([]*game.Session, error) {
	return s.store.List(ctx)
}

// SessionsOf returns the live sessions the user takes part in.
func (s *SessionService) SessionsOf(ctx context.Context, userID string) ([]*game.Session, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*game.Session
	for _, sess := range all {
		if _, ok := sess.Participant(userID); ok && !sess.Terminal() {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Recover resumes sessions found in the store after a restart: open rounds
// get their remaining deadline, interrupted gradings run again and settled
// sessions wait for their close timeout.
func (s *SessionService) Recover(ctx context.Context) error {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, sess := range sessions {
		log := s.log.With().Str("session_id", sess.ID).Str("state", string(sess.State)).Logger()
		switch sess.State {
		case game.StateInProgress:
			s.metrics.SessionResumed()
			if r := sess.Current(); r != nil && r.ClosesAt != nil {
				s.armTimer(sess.ID, sess.CurrentRound, *r.ClosesAt)
			} else {
				s.armTimerAfter(sess.ID, sess.CurrentRound, 0)
			}
		case game.StateGrading:
			s.metrics.SessionResumed()
			s.armTimerAfter(sess.ID, sess.CurrentRound, 0)
		case game.StateSettled:
			s.metrics.SessionResumed()
			s.armClose(sess.ID)
		case game.StateClosed:
			func() {
				unlock := s.locks.Lock(sess.ID)
				defer unlock()
				if s.recorder != nil {
					s.recorder.Submit(sess)
				}
				if err := s.store.Delete(ctx, sess.ID); err != nil {
					log.Error().Err(err).Msg("failed to delete closed session")
				}
			}()
			continue
		}
		log.Info().Msg("session resumed")
	}
	return nil
}

func (s *SessionService) armTimer(sessionID string, round int, at time.Time) {
	s.armTimerAfter(sessionID, round, at.Sub(s.clock.Now()))
}

func (s *SessionService) armTimerAfter(sessionID string, round int, d time.Duration) {
	if d < 0 {
		d = 0
	}
	t := s.clock.AfterFunc(d, func() { s.onDeadline(sessionID, round) })
	s.setTimer(sessionID, t)
}

func (s *SessionService) armClose(sessionID string) {
	t := s.clock.AfterFunc(s.cfg.DeliveryTimeout, func() { s.onCloseTimeout(sessionID) })
	s.setTimer(sessionID, t)
}

func (s *SessionService) setTimer(sessionID string, t *clock.Timer) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if old, ok := s.timers[sessionID]; ok {
		old.Stop()
	}
	s.timers[sessionID] = t
}

func (s *SessionService) stopTimer(sessionID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// Stop cancels every pending timer. Sessions stay in the store and resume
// on the next Recover.
func (s *SessionService) Stop() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
