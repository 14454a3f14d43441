package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/transport"
)

func TestJoinInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "alice", 5)

	_, err := h.matchmaker.Join(ctx, "alice", game.ModeDuel, 10)
	var ent *EntitlementError
	require.ErrorAs(t, err, &ent)
	assert.Equal(t, EntitlementInsufficientFunds, ent.Reason)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.Equal(t, int64(5), h.ledger.Balance("alice"))
	_, queued := h.matchmaker.LobbyOf("alice")
	assert.False(t, queued)
	assert.Empty(t, h.matchmaker.Lobbies())

	res, err := h.matchmaker.Join(ctx, "alice", game.ModeDuel, 5)
	require.NoError(t, err)
	assert.Equal(t, JoinStatusPending, res.Status)
	assert.Equal(t, int64(0), h.ledger.Balance("alice"))
}

func TestJoinValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "alice", 100)

	tests := []struct {
		name  string
		mode  game.Mode
		stake int64
		want  error
	}{
		{"unknown mode", game.Mode("royale"), 10, ErrInvalidMode},
		{"zero stake", game.ModeDuel, 0, ErrInvalidStake},
		{"stake over max", game.ModeTournament, 5000, ErrInvalidStake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.matchmaker.Join(ctx, "alice", tt.mode, tt.stake)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(100), h.ledger.Balance("alice"))
}

func TestJoinTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "alice", 100)

	_, err := h.matchmaker.Join(ctx, "alice", game.ModeDuel, 10)
	require.NoError(t, err)
	_, err = h.matchmaker.Join(ctx, "alice", game.ModeTournament, 10)
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, int64(90), h.ledger.Balance("alice"))
}

func TestBlockedUserCannotJoin(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", 100)
	h.blocked["alice"] = true

	_, err := h.matchmaker.Join(context.Background(), "alice", game.ModeDuel, 10)
	var ent *EntitlementError
	require.ErrorAs(t, err, &ent)
	assert.Equal(t, EntitlementBlocked, ent.Reason)
	assert.Equal(t, int64(100), h.ledger.Balance("alice"))
}

func TestPremiumTournamentGate(t *testing.T) {
	cfg := testMatchmakerConfig()
	cfg.PremiumTournaments = true
	h := newHarnessWith(t, cfg)
	ctx := context.Background()
	h.fund(t, "alice", 100)

	_, err := h.matchmaker.Join(ctx, "alice", game.ModeTournament, 10)
	var ent *EntitlementError
	require.ErrorAs(t, err, &ent)
	assert.Equal(t, EntitlementPremiumRequired, ent.Reason)

	_, err = h.matchmaker.Join(ctx, "alice", game.ModeDuel, 10)
	require.NoError(t, err, "duels are open to everyone")
	require.NoError(t, h.matchmaker.Leave(ctx, "alice"))

	_, err = h.ledger.Apply(ctx, ledger.Request{
		Account:        "alice",
		Reason:         ledger.ReasonSubscription,
		IdempotencyKey: "gift",
		ExtendPremium:  24 * time.Hour,
	})
	require.NoError(t, err)

	res, err := h.matchmaker.Join(ctx, "alice", game.ModeTournament, 10)
	require.NoError(t, err)
	assert.Equal(t, JoinStatusPending, res.Status)
}

func TestTournamentFillsAndStarts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		h.fund(t, u, 50)
	}

	var res JoinResult
	for i, u := range users {
		var err error
		res, err = h.matchmaker.Join(ctx, u, game.ModeTournament, 20)
		require.NoError(t, err)
		if i < len(users)-1 {
			assert.Equal(t, JoinStatusPending, res.Status)
			assert.Equal(t, i+1, res.Members)
		}
	}
	require.Equal(t, JoinStatusSession, res.Status)

	sess := h.session(t, res.SessionID)
	require.Len(t, sess.Participants, 4)
	for i, p := range sess.Participants {
		assert.Equal(t, users[i], p.UserID)
		assert.Equal(t, i, p.JoinOrder)
		assert.Equal(t, int64(30), h.ledger.Balance(p.UserID))
	}
	assert.Len(t, sess.Rounds, 3)
	assert.Empty(t, h.matchmaker.Lobbies())
}

func TestTournamentTimeoutStartsWithMinPlayers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []string{"u1", "u2", "u3"} {
		h.fund(t, u, 50)
		_, err := h.matchmaker.Join(ctx, u, game.ModeTournament, 10)
		require.NoError(t, err)
	}

	h.clk.Add(time.Minute)
	require.Eventually(t, func() bool {
		live, err := h.sessions.SessionsOf(ctx, "u3")
		return err == nil && len(live) == 1
	}, time.Second, 5*time.Millisecond)

	live, err := h.sessions.SessionsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, live[0].Participants, 3)
	assert.Equal(t, int64(40), h.ledger.Balance("u1"))
	assert.Equal(t, 0, h.transport.count("u1", transport.TypeLobbyExpired))
}

func TestUnderfilledLobbyExpiresWithRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "u1", 50)
	h.fund(t, "u2", 50)
	h.fund(t, "carol", 50)

	for _, u := range []string{"u1", "u2"} {
		_, err := h.matchmaker.Join(ctx, u, game.ModeTournament, 10)
		require.NoError(t, err)
	}
	_, err := h.matchmaker.Join(ctx, "carol", game.ModeDuel, 10)
	require.NoError(t, err)

	h.clk.Add(time.Minute)
	require.Eventually(t, func() bool { return h.ledger.Balance("u2") == 50 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(50), h.ledger.Balance("u1"))
	assert.Equal(t, 1, h.transport.count("u1", transport.TypeLobbyExpired))

	// the duel challenge waits longer
	assert.Equal(t, int64(40), h.ledger.Balance("carol"))
	h.clk.Add(4 * time.Minute)
	require.Eventually(t, func() bool { return h.ledger.Balance("carol") == 50 }, time.Second, 5*time.Millisecond)

	msg, ok := h.transport.last("carol", transport.TypeLobbyExpired)
	require.True(t, ok)
	status := msg.Data.(transport.LobbyStatus)
	assert.Equal(t, game.ModeDuel, status.Mode)
	assert.Equal(t, "expired", status.Reason)

	_, queued := h.matchmaker.LobbyOf("carol")
	assert.False(t, queued)
}

func TestLeaveRefundsStake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "alice", 100)

	first, err := h.matchmaker.Join(ctx, "alice", game.ModeDuel, 10)
	require.NoError(t, err)
	view, ok := h.matchmaker.LobbyOf("alice")
	require.True(t, ok)
	assert.Equal(t, first.LobbyID, view.ID)

	require.NoError(t, h.matchmaker.Leave(ctx, "alice"))
	assert.Equal(t, int64(100), h.ledger.Balance("alice"))
	assert.ErrorIs(t, h.matchmaker.Leave(ctx, "alice"), ErrNotQueued)
	assert.NoError(t, h.matchmaker.Remove(ctx, "alice"))

	second, err := h.matchmaker.Join(ctx, "alice", game.ModeDuel, 10)
	require.NoError(t, err)
	assert.NotEqual(t, first.LobbyID, second.LobbyID)
	assert.Equal(t, int64(90), h.ledger.Balance("alice"))
}

func TestFailedStartRefundsLobby(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "alice", 100)
	h.fund(t, "bob", 100)
	h.content.failAll = true

	_, err := h.matchmaker.Join(ctx, "alice", game.ModeDuel, 10)
	require.NoError(t, err)
	_, err = h.matchmaker.Join(ctx, "bob", game.ModeDuel, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotEnoughQuestions))

	assert.Equal(t, int64(100), h.ledger.Balance("alice"))
	assert.Equal(t, int64(100), h.ledger.Balance("bob"))
	assert.Equal(t, 1, h.transport.count("bob", transport.TypeLobbyExpired))
}

func TestRejoinAfterLeavePaysAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c", "d"} {
		h.fund(t, u, 100)
	}

	first, err := h.matchmaker.Join(ctx, "a", game.ModeTournament, 10)
	require.NoError(t, err)
	_, err = h.matchmaker.Join(ctx, "b", game.ModeTournament, 10)
	require.NoError(t, err)
	require.NoError(t, h.matchmaker.Leave(ctx, "b"))
	assert.Equal(t, int64(100), h.ledger.Balance("b"))

	again, err := h.matchmaker.Join(ctx, "b", game.ModeTournament, 10)
	require.NoError(t, err)
	require.Equal(t, first.LobbyID, again.LobbyID, "the lobby stayed open")
	assert.Equal(t, int64(90), h.ledger.Balance("b"))

	_, err = h.matchmaker.Join(ctx, "c", game.ModeTournament, 10)
	require.NoError(t, err)
	res, err := h.matchmaker.Join(ctx, "d", game.ModeTournament, 10)
	require.NoError(t, err)
	require.Equal(t, JoinStatusSession, res.Status)

	sess := h.session(t, res.SessionID)
	b, ok := sess.Participant("b")
	require.True(t, ok)
	assert.Equal(t, stakeKey("b", first.LobbyID, 3), b.EntryStake)

	require.NoError(t, h.sessions.CancelSession(ctx, res.SessionID, "admin"))
	for _, u := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, int64(100), h.ledger.Balance(u), u)
	}
}

func TestConcurrentJoinsNeverOverfill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const players = 12
	for i := 0; i < players; i++ {
		h.fund(t, fmt.Sprintf("p%d", i), 100)
	}

	var wg sync.WaitGroup
	results := make([]JoinResult, players)
	errs := make([]error, players)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.matchmaker.Join(ctx, fmt.Sprintf("p%d", i), game.ModeTournament, 10)
		}(i)
	}
	wg.Wait()

	sessions := map[string]bool{}
	for i := 0; i < players; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(90), h.ledger.Balance(fmt.Sprintf("p%d", i)))
		if results[i].Status == JoinStatusSession {
			sessions[results[i].SessionID] = true
		}
	}
	require.Len(t, sessions, players/4)
	for id := range sessions {
		assert.Len(t, h.session(t, id).Participants, 4)
	}
	assert.Empty(t, h.matchmaker.Lobbies())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTimedOutLobbyStartFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	var logs syncBuffer
	h.matchmaker = NewMatchmakerService(testMatchmakerConfig(), h.sessions, h.ledger, h.transport, h.blocked, h.clk, nil, zerolog.New(&logs))
	ctx := context.Background()
	for _, u := range []string{"u1", "u2", "u3"} {
		h.fund(t, u, 50)
		_, err := h.matchmaker.Join(ctx, u, game.ModeTournament, 10)
		require.NoError(t, err)
	}
	h.content.mu.Lock()
	h.content.failAll = true
	h.content.mu.Unlock()

	h.clk.Add(time.Minute)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "timed out lobby did not start")
	}, time.Second, 5*time.Millisecond)
	for _, u := range []string{"u1", "u2", "u3"} {
		assert.Equal(t, int64(50), h.ledger.Balance(u), u)
	}
}
