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
	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/metrics"
	"github.com/elmedianur/deutsche/internal/transport"
)

const (
	JoinStatusSession = "session"
	JoinStatusPending = "lobby_pending"

	lobbyExpired     = "expired"
	lobbyStartFailed = "start_failed"
)

type MatchmakerConfig struct {
	TournamentCapacity   int
	TournamentMinPlayers int
	LobbyTimeout         time.Duration
	DuelChallengeTimeout time.Duration
	MinStake             int64
	MaxStake             int64
	// PremiumTournaments restricts tournament entry to premium subscribers.
	PremiumTournaments bool
}

// BlockList reports users barred from competing.
type BlockList interface {
	IsBlocked(ctx context.Context, userID string) (bool, error)
}

type JoinResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	LobbyID   string `json:"lobby_id,omitempty"`
	Members   int    `json:"members"`
}

type LobbyView struct {
	ID        string    `json:"id"`
	Mode      game.Mode `json:"mode"`
	Stake     int64     `json:"stake"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type lobbyKey struct {
	mode  game.Mode
	stake int64
}

// entrant is one paid membership. entry is the idempotency key of its stake
// debit, unique per membership so a user who leaves and rejoins pays again.
type entrant struct {
	userID string
	entry  string
}

// lobby fields below mu are guarded by it. Joins into one lobby serialize on
// mu; unrelated lobbies never contend.
type lobby struct {
	id        string
	key       lobbyKey
	createdAt time.Time

	mu      sync.Mutex
	members []entrant
	joins   int
	timer   *clock.Timer
	done    bool
}

func (lb *lobby) userIDs() []string { return idsOf(lb.members) }

func (lb *lobby) indexOf(userID string) int {
	for i, m := range lb.members {
		if m.userID == userID {
			return i
		}
	}
	return -1
}

// MatchmakerService groups paid entrants into lobbies by mode and stake and
// hands a full lobby to the session service. A user waits in at most one
// lobby at a time.
//
// Lock order: a lobby's mu before s.mu. s.mu only guards the two indexes.
type MatchmakerService struct {
	cfg       MatchmakerConfig
	sessions  *SessionService
	ledger    *ledger.Ledger
	transport transport.Transport
	blocked   BlockList
	clock     clock.Clock
	metrics   *metrics.ArenaCollector
	log       zerolog.Logger

	mu     sync.Mutex
	open   map[lobbyKey]*lobby
	byUser map[string]*lobby
}

func NewMatchmakerService(cfg MatchmakerConfig, sessions *SessionService, l *ledger.Ledger, t transport.Transport, blocked BlockList, clk clock.Clock, m *metrics.ArenaCollector, log zerolog.Logger) *MatchmakerService {
	if t == nil {
		t = transport.Discard{}
	}
	return &MatchmakerService{
		cfg:       cfg,
		sessions:  sessions,
		ledger:    l,
		transport: t,
		blocked:   blocked,
		clock:     clk,
		metrics:   m,
		log:       log.With().Str("component", "matchmaker").Logger(),
		open:      make(map[lobbyKey]*lobby),
		byUser:    make(map[string]*lobby),
	}
}

func (s *MatchmakerService) capacity(mode game.Mode) int {
	if mode == game.ModeDuel {
		return 2
	}
	return s.cfg.TournamentCapacity
}

func (s *MatchmakerService) timeout(mode game.Mode) time.Duration {
	if mode == game.ModeDuel {
		return s.cfg.DuelChallengeTimeout
	}
	return s.cfg.LobbyTimeout
}

func stakeKey(userID, lobbyID string, join int) string {
	return fmt.Sprintf("%s:%s:%d", userID, lobbyID, join)
}

func lobbyRefundKey(entry string) string {
	return entry + ":refund"
}

// Join debits the stake and places the user in the open lobby for mode and
// stake, starting a session when the lobby fills up.
func (s *MatchmakerService) Join(ctx context.Context, userID string, mode game.Mode, stake int64) (JoinResult, error) {
	if !mode.Valid() {
		return JoinResult{}, ErrInvalidMode
	}
	if stake < s.cfg.MinStake || stake > s.cfg.MaxStake {
		return JoinResult{}, fmt.Errorf("%w: must be between %d and %d", ErrInvalidStake, s.cfg.MinStake, s.cfg.MaxStake)
	}
	if s.blocked != nil {
		blocked, err := s.blocked.IsBlocked(ctx, userID)
		if err != nil {
			return JoinResult{}, fmt.Errorf("check block list: %w", err)
		}
		if blocked {
			return JoinResult{}, &EntitlementError{UserID: userID, Reason: EntitlementBlocked}
		}
	}
	if mode == game.ModeTournament && s.cfg.PremiumTournaments && !s.ledger.IsPremium(userID, s.clock.Now()) {
		return JoinResult{}, &EntitlementError{UserID: userID, Reason: EntitlementPremiumRequired}
	}

	key := lobbyKey{mode: mode, stake: stake}
	for {
		lb, err := s.reserve(userID, key)
		if err != nil {
			return JoinResult{}, err
		}
		res, retry, err := s.joinLobby(ctx, lb, userID)
		if retry {
			continue
		}
		return res, err
	}
}

// reserve claims the user's single lobby slot and picks the lobby to enter,
// creating it when none is open for key.
func (s *MatchmakerService) reserve(userID string, key lobbyKey) (*lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.byUser[userID]; queued {
		return nil, ErrAlreadyQueued
	}
	lb, ok := s.open[key]
	if !ok {
		lb = &lobby{id: uuid.NewString(), key: key, createdAt: s.clock.Now()}
		s.open[key] = lb
		s.metrics.LobbyOpened()
	}
	s.byUser[userID] = lb
	return lb, nil
}

func (s *MatchmakerService) release(userID string, lb *lobby) {
	s.mu.Lock()
	if s.byUser[userID] == lb {
		delete(s.byUser, userID)
	}
	s.mu.Unlock()
}

// joinLobby pays the stake and adds the user under the lobby's lock. retry
// reports that the lobby closed while the user was waiting for it.
func (s *MatchmakerService) joinLobby(ctx context.Context, lb *lobby, userID string) (JoinResult, bool, error) {
	mode, stake := lb.key.mode, lb.key.stake

	lb.mu.Lock()
	if lb.done {
		lb.mu.Unlock()
		s.release(userID, lb)
		return JoinResult{}, true, nil
	}

	entry := stakeKey(userID, lb.id, lb.joins+1)
	if _, err := s.ledger.Apply(ctx, ledger.Request{
		Account:        userID,
		Delta:          -stake,
		Reason:         ledger.ReasonStake,
		IdempotencyKey: entry,
		Memo:           fmt.Sprintf("%s entry", mode),
	}); err != nil {
		if len(lb.members) == 0 {
			s.finishLocked(lb)
		}
		lb.mu.Unlock()
		s.release(userID, lb)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return JoinResult{}, false, &EntitlementError{UserID: userID, Reason: EntitlementInsufficientFunds, Err: err}
		}
		return JoinResult{}, false, err
	}

	lb.joins++
	lb.members = append(lb.members, entrant{userID: userID, entry: entry})
	if lb.timer == nil {
		lb.timer = s.clock.AfterFunc(s.timeout(mode), func() { s.onTimeout(lb) })
	}

	s.log.Info().
		Str("lobby_id", lb.id).
		Str("user_id", userID).
		Str("mode", string(mode)).
		Int64("stake", stake).
		Int("members", len(lb.members)).
		Msg("joined lobby")

	if len(lb.members) < s.capacity(mode) {
		members := lb.userIDs()
		lb.mu.Unlock()
		s.notify(ctx, lb, members, "")
		return JoinResult{Status: JoinStatusPending, LobbyID: lb.id, Members: len(members)}, false, nil
	}

	entrants := s.finishLocked(lb)
	lb.mu.Unlock()

	sess, err := s.start(ctx, lb, entrants)
	if err != nil {
		return JoinResult{}, false, err
	}
	return JoinResult{Status: JoinStatusSession, SessionID: sess.ID, LobbyID: lb.id, Members: len(entrants)}, false, nil
}

// finishLocked takes lb out of matchmaking and returns its members. The
// caller holds lb.mu.
func (s *MatchmakerService) finishLocked(lb *lobby) []entrant {
	lb.done = true
	if lb.timer != nil {
		lb.timer.Stop()
	}
	s.metrics.LobbyDone()
	s.mu.Lock()
	if s.open[lb.key] == lb {
		delete(s.open, lb.key)
	}
	for _, m := range lb.members {
		if s.byUser[m.userID] == lb {
			delete(s.byUser, m.userID)
		}
	}
	s.mu.Unlock()
	return append([]entrant(nil), lb.members...)
}

func (s *MatchmakerService) start(ctx context.Context, lb *lobby, entrants []entrant) (*game.Session, error) {
	participants := make([]game.Participant, len(entrants))
	for i, m := range entrants {
		participants[i] = game.Participant{UserID: m.userID, EntryStake: m.entry}
	}

	sess, err := s.sessions.StartSession(ctx, lb.key.mode, lb.key.stake, participants)
	if err != nil {
		s.log.Error().Err(err).Str("lobby_id", lb.id).Msg("failed to start session, refunding lobby")
		if rerr := s.refund(ctx, lb, entrants); rerr != nil {
			err = multierror.Append(err, rerr)
		}
		s.notify(ctx, lb, idsOf(entrants), lobbyStartFailed)
		return nil, err
	}
	return sess, nil
}

func (s *MatchmakerService) onTimeout(lb *lobby) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lb.mu.Lock()
	if lb.done {
		lb.mu.Unlock()
		return
	}
	entrants := s.finishLocked(lb)
	lb.mu.Unlock()

	log := s.log.With().Str("lobby_id", lb.id).Int("members", len(entrants)).Logger()
	if lb.key.mode == game.ModeTournament && len(entrants) >= s.cfg.TournamentMinPlayers {
		log.Info().Msg("lobby timed out, starting with current members")
		if _, err := s.start(ctx, lb, entrants); err != nil {
			log.Debug().Err(err).Msg("timed out lobby did not start")
		}
		return
	}

	log.Info().Msg("lobby expired")
	s.metrics.LobbyExpired(string(lb.key.mode))
	if err := s.refund(ctx, lb, entrants); err != nil {
		log.Error().Err(err).Msg("lobby refund incomplete")
	}
	s.notify(ctx, lb, idsOf(entrants), lobbyExpired)
}

func idsOf(entrants []entrant) []string {
	ids := make([]string, len(entrants))
	for i, m := range entrants {
		ids[i] = m.userID
	}
	return ids
}

func (s *MatchmakerService) refund(ctx context.Context, lb *lobby, entrants []entrant) error {
	var result *multierror.Error
	for _, m := range entrants {
		if err := s.refundOne(ctx, lb, m); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *MatchmakerService) refundOne(ctx context.Context, lb *lobby, m entrant) error {
	_, err := s.ledger.Apply(ctx, ledger.Request{
		Account:        m.userID,
		Delta:          lb.key.stake,
		Reason:         ledger.ReasonRefund,
		IdempotencyKey: lobbyRefundKey(m.entry),
		Memo:           "lobby " + lb.id,
	})
	if err != nil {
		return fmt.Errorf("refund %s: %w", m.userID, err)
	}
	return nil
}

func (s *MatchmakerService) notify(ctx context.Context, lb *lobby, members []string, reason string) {
	msgType := transport.TypeLobbyPending
	if reason != "" {
		msgType = transport.TypeLobbyExpired
	}
	msg := transport.Message{Type: msgType, Data: transport.LobbyStatus{
		LobbyID: lb.id,
		Mode:    lb.key.mode,
		Stake:   lb.key.stake,
		Members: len(members),
		Reason:  reason,
	}}
	for _, id := range members {
		if err := s.transport.Deliver(ctx, lb.id, id, msg); err != nil {
			s.log.Debug().Err(err).Str("lobby_id", lb.id).Str("user_id", id).Msg("lobby delivery failed")
		}
	}
}

func (s *MatchmakerService) lobbyOf(userID string) (*lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb, ok := s.byUser[userID]
	return lb, ok
}

// Leave takes the user out of their lobby and refunds the stake.
func (s *MatchmakerService) Leave(ctx context.Context, userID string) error {
	lb, ok := s.lobbyOf(userID)
	if !ok {
		return ErrNotQueued
	}

	lb.mu.Lock()
	i := lb.indexOf(userID)
	if lb.done || i < 0 {
		// the lobby started, expired or never took the user's stake
		lb.mu.Unlock()
		return ErrNotQueued
	}
	m := lb.members[i]
	lb.members = append(lb.members[:i], lb.members[i+1:]...)
	s.release(userID, lb)
	if len(lb.members) == 0 {
		s.finishLocked(lb)
	}
	lb.mu.Unlock()

	s.log.Info().Str("lobby_id", lb.id).Str("user_id", userID).Msg("left lobby")
	return s.refundOne(ctx, lb, m)
}

// Remove is Leave for callers that do not care whether the user was queued.
func (s *MatchmakerService) Remove(ctx context.Context, userID string) error {
	if err := s.Leave(ctx, userID); err != nil && !errors.Is(err, ErrNotQueued) {
		return err
	}
	return nil
}

func (s *MatchmakerService) LobbyOf(userID string) (LobbyView, bool) {
	lb, ok := s.lobbyOf(userID)
	if !ok {
		return LobbyView{}, false
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.done || lb.indexOf(userID) < 0 {
		return LobbyView{}, false
	}
	return viewOf(lb), true
}

func (s *MatchmakerService) Lobbies() []LobbyView {
	s.mu.Lock()
	lobbies := make([]*lobby, 0, len(s.open))
	for _, lb := range s.open {
		lobbies = append(lobbies, lb)
	}
	s.mu.Unlock()

	out := make([]LobbyView, 0, len(lobbies))
	for _, lb := range lobbies {
		lb.mu.Lock()
		if !lb.done && len(lb.members) > 0 {
			out = append(out, viewOf(lb))
		}
		lb.mu.Unlock()
	}
	return out
}

func viewOf(lb *lobby) LobbyView {
	return LobbyView{
		ID:        lb.id,
		Mode:      lb.key.mode,
		Stake:     lb.key.stake,
		Members:   lb.userIDs(),
		CreatedAt: lb.createdAt,
	}
}
