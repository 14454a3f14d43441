package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/store"
	"github.com/elmedianur/deutsche/internal/transport"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const correctChoice = 1

type fakeContent struct {
	mu      sync.Mutex
	failGet map[string]bool
	failAll bool
}

func (f *fakeContent) GetQuestion(_ context.Context, ref string) (Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet[ref] {
		return Question{}, fmt.Errorf("content unavailable for %s", ref)
	}
	return Question{
		Ref:           ref,
		Prompt:        "Question " + ref,
		Choices:       []string{"A", "B", "C", "D"},
		CorrectChoice: correctChoice,
	}, nil
}

func (f *fakeContent) PickQuestions(_ context.Context, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, ErrNotEnoughQuestions
	}
	refs := make([]string, n)
	for i := range refs {
		refs[i] = fmt.Sprintf("q%d", i)
	}
	return refs, nil
}

type delivery struct {
	session     string
	participant string
	msg         transport.Message
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (f *fakeTransport) Deliver(_ context.Context, sessionID, participantID string, msg transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{session: sessionID, participant: participantID, msg: msg})
	return f.err
}

func (f *fakeTransport) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTransport) count(participant, msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.sent {
		if d.participant == participant && d.msg.Type == msgType {
			n++
		}
	}
	return n
}

func (f *fakeTransport) last(participant, msgType string) (transport.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		d := f.sent[i]
		if d.participant == participant && d.msg.Type == msgType {
			return d.msg, true
		}
	}
	return transport.Message{}, false
}

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []*game.Session
}

func (f *fakeRecorder) Submit(s *game.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s.Clone())
}

func (f *fakeRecorder) all() []*game.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*game.Session(nil), f.sessions...)
}

type fakeBlockList map[string]bool

func (f fakeBlockList) IsBlocked(_ context.Context, userID string) (bool, error) {
	return f[userID], nil
}

// flakyStore fails the next failUpdates writes.
type flakyStore struct {
	store.Store
	mu          sync.Mutex
	failUpdates int
}

func (f *flakyStore) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates = n
}

func (f *flakyStore) Update(ctx context.Context, s *game.Session) error {
	f.mu.Lock()
	if f.failUpdates > 0 {
		f.failUpdates--
		f.mu.Unlock()
		return errors.New("store unavailable")
	}
	f.mu.Unlock()
	return f.Store.Update(ctx, s)
}

type harness struct {
	clk        *clock.Mock
	ledger     *ledger.Ledger
	store      store.Store
	content    *fakeContent
	transport  *fakeTransport
	recorder   *fakeRecorder
	caps       *Capabilities
	sessions   *SessionService
	matchmaker *MatchmakerService
	blocked    fakeBlockList
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		RoundDuration:    10 * time.Second,
		DuelRounds:       2,
		TournamentRounds: 3,
		DeliveryTimeout:  5 * time.Second,
	}
}

func testMatchmakerConfig() MatchmakerConfig {
	return MatchmakerConfig{
		TournamentCapacity:   4,
		TournamentMinPlayers: 3,
		LobbyTimeout:         time.Minute,
		DuelChallengeTimeout: 5 * time.Minute,
		MinStake:             1,
		MaxStake:             1000,
	}
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, testMatchmakerConfig())
}

func newHarnessWith(t *testing.T, mcfg MatchmakerConfig) *harness {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(testStart)

	h := &harness{
		clk:       clk,
		ledger:    ledger.New(clk, zerolog.Nop()),
		store:     store.NewMemoryStore(nil),
		content:   &fakeContent{failGet: map[string]bool{}},
		transport: &fakeTransport{},
		recorder:  &fakeRecorder{},
		caps:      NewCapabilities([]string{"admin"}, []string{"root"}),
		blocked:   fakeBlockList{},
	}
	h.sessions = h.newSessionService()
	h.matchmaker = NewMatchmakerService(mcfg, h.sessions, h.ledger, h.transport, h.blocked, clk, nil, zerolog.Nop())
	t.Cleanup(h.sessions.Stop)
	return h
}

// useStore rebuilds the services on top of st.
func (h *harness) useStore(t *testing.T, st store.Store) {
	t.Helper()
	h.store = st
	h.sessions = h.newSessionService()
	h.matchmaker = NewMatchmakerService(testMatchmakerConfig(), h.sessions, h.ledger, h.transport, h.blocked, h.clk, nil, zerolog.Nop())
	t.Cleanup(h.sessions.Stop)
}

func (h *harness) newSessionService() *SessionService {
	return NewSessionService(testSessionConfig(), game.NewScorer(100, 50), game.DefaultPayoutPolicy(), SessionDeps{
		Store:     h.store,
		Ledger:    h.ledger,
		Content:   h.content,
		Transport: h.transport,
		Recorder:  h.recorder,
		Caps:      h.caps,
		Clock:     h.clk,
		Logger:    zerolog.Nop(),
	})
}

func (h *harness) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := h.ledger.Apply(context.Background(), ledger.Request{
		Account:        userID,
		Delta:          amount,
		Reason:         ledger.ReasonTopUp,
		IdempotencyKey: "fund:" + userID,
	})
	require.NoError(t, err)
}

func (h *harness) start(t *testing.T, mode game.Mode, stake int64, users ...string) *game.Session {
	t.Helper()
	ps := make([]game.Participant, len(users))
	for i, u := range users {
		ps[i] = game.Participant{UserID: u}
	}
	sess, err := h.sessions.StartSession(context.Background(), mode, stake, ps)
	require.NoError(t, err)
	return sess
}

func (h *harness) answer(t *testing.T, sessionID, userID string, round, choice int) AnswerAck {
	t.Helper()
	ack, err := h.sessions.SubmitAnswer(context.Background(), sessionID, userID, round, choice, time.Time{})
	require.NoError(t, err)
	return ack
}

func (h *harness) session(t *testing.T, id string) *game.Session {
	t.Helper()
	sess, err := h.sessions.GetSession(context.Background(), id)
	require.NoError(t, err)
	return sess
}

// currentRound returns -1 once the session is gone from the store.
func (h *harness) currentRound(id string) int {
	sess, err := h.sessions.GetSession(context.Background(), id)
	if errors.Is(err, ErrSessionNotFound) {
		return -1
	}
	if err != nil {
		return -2
	}
	return sess.CurrentRound
}
