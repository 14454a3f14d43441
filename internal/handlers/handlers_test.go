package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/services"
	"github.com/elmedianur/deutsche/internal/store"
	"github.com/elmedianur/deutsche/internal/testutil"
	"github.com/elmedianur/deutsche/internal/ws"
)

const botKey = "bot-key"

type env struct {
	router    *gin.Engine
	auth      *services.AuthService
	sessions  *services.SessionService
	questions *services.QuestionService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	log := zerolog.Nop()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	l := ledger.New(clk, log)
	caps := services.NewCapabilities([]string{"admin"}, []string{"root"})
	hub := ws.NewHub(log)
	auth := services.NewAuthService(db, "secret")
	questions := services.NewQuestionService(db)
	results := services.NewResultService(db, log)
	t.Cleanup(results.Close)
	users := services.NewTelegramUserService(db)

	sessions := services.NewSessionService(services.SessionConfig{
		RoundDuration:    10 * time.Second,
		DuelRounds:       2,
		TournamentRounds: 3,
		DeliveryTimeout:  time.Second,
	}, game.NewScorer(100, 50), game.DefaultPayoutPolicy(), services.SessionDeps{
		Store:     store.NewMemoryStore(nil),
		Ledger:    l,
		Content:   questions,
		Transport: hub,
		Recorder:  results,
		Caps:      caps,
		Clock:     clk,
		Logger:    log,
	})
	t.Cleanup(sessions.Stop)

	matchmaker := services.NewMatchmakerService(services.MatchmakerConfig{
		TournamentCapacity:   4,
		TournamentMinPlayers: 3,
		LobbyTimeout:         time.Minute,
		DuelChallengeTimeout: 5 * time.Minute,
		MinStake:             1,
		MaxStake:             1000,
	}, sessions, l, hub, users, clk, nil, log)
	moderation := services.NewModerationService(users, matchmaker, sessions, nil, caps, clk, log)
	shop := services.NewShopService(l, caps, clk)

	r := gin.New()
	Routes{
		Auth:        NewAuthHandler(auth, caps),
		Sessions:    NewSessionHandler(sessions, matchmaker, caps, clk),
		Wallet:      NewWalletHandler(shop),
		Stats:       NewStatsHandler(results),
		Questions:   NewQuestionHandler(questions),
		Moderation:  NewModerationHandler(moderation),
		Telegram:    NewTelegramUserHandler(users, results),
		WS:          NewWSHandler(hub, auth, sessions, clk, log),
		AuthService: auth,
		Caps:        caps,
		BotAPIKey:   botKey,
	}.Register(r)

	e := &env{router: r, auth: auth, sessions: sessions, questions: questions}
	e.seedQuestions(t, 3)
	return e
}

// seedQuestions adds n questions whose first option is correct.
func (e *env) seedQuestions(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.questions.CreateQuestion(context.Background(), services.QuestionInput{
			Topic: "capitals",
			Text:  fmt.Sprintf("Question %d", i),
			Options: []services.OptionInput{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
				{Text: "also wrong"},
			},
		})
		require.NoError(t, err)
	}
}

func (e *env) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.auth.GenerateToken(userID, false)
	require.NoError(t, err)
	return token
}

type request struct {
	method      string
	path        string
	body        any
	token       string
	asBot       string
	contentType string
}

func (e *env) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	switch b := req.body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	r := httptest.NewRequest(req.method, req.path, body)
	switch {
	case req.contentType != "":
		r.Header.Set("Content-Type", req.contentType)
	case body != nil:
		r.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.asBot != "" {
		r.Header.Set("X-Bot-API-Key", botKey)
		r.Header.Set("X-User-ID", req.asBot)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *env) topUp(t *testing.T, userID string, amount int64) {
	t.Helper()
	w := e.do(t, request{method: http.MethodPost, path: "/api/v1/wallet/topup", asBot: "bot", body: TopUpRequest{
		UserID: userID, Amount: amount, ChargeID: "charge-" + userID,
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// startDuel funds two players and pairs them.
func (e *env) startDuel(t *testing.T, a, b string) string {
	t.Helper()
	e.topUp(t, a, 100)
	e.topUp(t, b, 100)

	w := e.do(t, request{method: http.MethodPost, path: "/api/v1/arena/join", asBot: a, body: JoinRequest{Mode: game.ModeDuel, Stake: 10}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/arena/join", token: e.token(t, b), body: JoinRequest{Mode: game.ModeDuel, Stake: 10}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[services.JoinResult](t, w)
	require.NotEmpty(t, res.SessionID)
	return res.SessionID
}

func TestDuelOverHTTP(t *testing.T) {
	e := newEnv(t)
	sessionID := e.startDuel(t, "1", "2")

	w := e.do(t, request{method: http.MethodGet, path: "/api/v1/sessions/" + sessionID, asBot: "1"})
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[services.SessionView](t, w)
	assert.Equal(t, game.StateInProgress, view.State)
	assert.Equal(t, 2, view.TotalRounds)
	assert.NotContains(t, w.Body.String(), "correct_choice")

	assert.Equal(t, http.StatusForbidden, e.do(t, request{method: http.MethodGet, path: "/api/v1/sessions/" + sessionID, asBot: "3"}).Code)
	assert.Equal(t, http.StatusOK, e.do(t, request{method: http.MethodGet, path: "/api/v1/sessions/" + sessionID, token: e.token(t, "admin")}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, request{method: http.MethodGet, path: "/api/v1/sessions/nope", asBot: "1"}).Code)

	answer := func(user string, choice int) services.AnswerAck {
		w := e.do(t, request{method: http.MethodPost, path: "/api/v1/sessions/" + sessionID + "/answer", asBot: user, body: map[string]int{"choice": choice}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode[services.AnswerAck](t, w)
	}
	assert.True(t, answer("1", 0).Accepted)
	dup := answer("1", 1)
	assert.False(t, dup.Accepted)
	assert.Equal(t, "duplicate", dup.Reason)

	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/sessions/" + sessionID + "/answer", asBot: "1", body: map[string]int{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/arena/sessions", asBot: "2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]services.SessionView](t, w), 1)
}

func TestJoinErrors(t *testing.T) {
	e := newEnv(t)
	e.topUp(t, "1", 20)

	join := func(user string, mode game.Mode, stake int64) *httptest.ResponseRecorder {
		return e.do(t, request{method: http.MethodPost, path: "/api/v1/arena/join", asBot: user, body: JoinRequest{Mode: mode, Stake: stake}})
	}

	w := join("2", game.ModeDuel, 10)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, services.EntitlementInsufficientFunds, decode[ErrorResponse](t, w).Reason)

	assert.Equal(t, http.StatusBadRequest, join("1", "poker", 10).Code)
	assert.Equal(t, http.StatusBadRequest, join("1", game.ModeDuel, 5000).Code)

	assert.Equal(t, http.StatusAccepted, join("1", game.ModeDuel, 10).Code)
	assert.Equal(t, http.StatusConflict, join("1", game.ModeDuel, 10).Code)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/arena/lobby", asBot: "1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"1"}, decode[services.LobbyView](t, w).Members)

	assert.Equal(t, http.StatusOK, e.do(t, request{method: http.MethodPost, path: "/api/v1/arena/leave", asBot: "1"}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, request{method: http.MethodPost, path: "/api/v1/arena/leave", asBot: "1"}).Code)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/wallet", asBot: "1"})
	assert.Equal(t, int64(20), decode[services.Wallet](t, w).Balance)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, request{method: http.MethodPost, path: "/api/v1/arena/join", body: JoinRequest{Mode: game.ModeDuel, Stake: 10}}).Code)
}

func TestPurchaseIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.topUp(t, "1", 50)

	buy := func() *httptest.ResponseRecorder {
		return e.do(t, request{method: http.MethodPost, path: "/api/v1/shop/purchase", asBot: "1", body: PurchaseRequest{ItemID: "streak_freeze", RequestID: "r1"}})
	}
	w := buy()
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[TransactionResponse](t, w)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(30), first.Wallet.Balance)

	w = buy()
	require.Equal(t, http.StatusOK, w.Code)
	again := decode[TransactionResponse](t, w)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, int64(30), again.Wallet.Balance)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/wallet/inventory", asBot: "1"})
	assert.JSONEq(t, `{"streak_freeze":1}`, w.Body.String())

	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/shop/purchase", asBot: "1", body: PurchaseRequest{ItemID: "badge_vip", RequestID: "r2"}})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/shop/purchase", asBot: "1", body: PurchaseRequest{ItemID: "nope", RequestID: "r3"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/wallet/transactions", asBot: "1"})
	assert.Len(t, decode[[]ledger.Transaction](t, w), 2)
}

func TestAdminRoutesCheckCapabilities(t *testing.T) {
	e := newEnv(t)
	player, admin, root := e.token(t, "1"), e.token(t, "admin"), e.token(t, "root")

	assert.Equal(t, http.StatusForbidden, e.do(t, request{method: http.MethodGet, path: "/api/v1/admin/questions", token: player}).Code)
	assert.Equal(t, http.StatusOK, e.do(t, request{method: http.MethodGet, path: "/api/v1/admin/questions", token: admin}).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, request{method: http.MethodGet, path: "/api/v1/admin/questions", asBot: "admin"}).Code)

	grant := GrantRequest{UserID: "1", Amount: 25, RequestID: "g1"}
	assert.Equal(t, http.StatusForbidden, e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/grant", token: admin, body: grant}).Code)
	assert.Equal(t, http.StatusCreated, e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/grant", token: root, body: grant}).Code)

	w := e.do(t, request{method: http.MethodGet, path: "/api/v1/wallet", token: player})
	assert.Equal(t, int64(25), decode[services.Wallet](t, w).Balance)
}

func TestCancelAndBlock(t *testing.T) {
	e := newEnv(t)
	sessionID := e.startDuel(t, "1", "2")
	admin := e.token(t, "admin")

	assert.Equal(t, http.StatusForbidden, e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/sessions/" + sessionID + "/cancel", token: e.token(t, "1")}).Code)
	w := e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/sessions/" + sessionID + "/cancel", token: admin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/wallet", asBot: "1"})
	assert.Equal(t, int64(100), decode[services.Wallet](t, w).Balance)

	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/users/2/block", token: admin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/arena/join", asBot: "2", body: JoinRequest{Mode: game.ModeDuel, Stake: 10}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, services.EntitlementBlocked, decode[ErrorResponse](t, w).Reason)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/admin/users/2/block", token: admin})
	assert.JSONEq(t, `{"user_id":"2","blocked":true}`, w.Body.String())

	require.Equal(t, http.StatusOK, e.do(t, request{method: http.MethodDelete, path: "/api/v1/admin/users/2/block", token: admin}).Code)
	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/arena/join", asBot: "2", body: JoinRequest{Mode: game.ModeDuel, Stake: 10}})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestQuestionImportExportCSV(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "admin")

	csvBody := "topic,question,option1,option2,option3,option4,correct\n" +
		"rivers,Longest river?,Nile,Amazon,,,1\n" +
		"rivers,\"Danube flows into the\",Black Sea,North Sea,Baltic,,1\n"
	w := e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/questions/import", token: admin, body: csvBody, contentType: "text/csv"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[ImportResponse](t, w).Imported)

	bad := "topic,question,option1,option2,option3,option4,correct\n" +
		"rivers,Fine,a,b,,,1\n" +
		"rivers,No answer,a,b,,,3\n"
	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/questions/import", token: admin, body: bad, contentType: "text/csv"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/admin/questions?topic=rivers", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/admin/questions/export?format=csv&topic=rivers", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "topic,question,option1,option2,option3,option4,correct\n")
	assert.Contains(t, w.Body.String(), "rivers,Longest river?,Nile,Amazon,,,1\n")

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/admin/questions/export?topic=rivers", token: admin})
	data := decode[ExportData](t, w)
	require.Len(t, data.Questions, 2)
	assert.True(t, data.Questions[1].Options[0].IsCorrect)
}

func TestQuestionCRUD(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "admin")

	w := e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/questions", token: admin, body: CreateQuestionRequest{
		Text:    "2+2?",
		Options: []services.OptionInput{{Text: "4", IsCorrect: true}, {Text: "5"}},
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := int(decode[map[string]any](t, w)["id"].(float64))

	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/admin/questions", token: admin, body: CreateQuestionRequest{
		Text:    "no correct",
		Options: []services.OptionInput{{Text: "a"}, {Text: "b"}},
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := fmt.Sprintf("/api/v1/admin/questions/%d", id)
	assert.Equal(t, http.StatusOK, e.do(t, request{method: http.MethodDelete, path: path, token: admin}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, request{method: http.MethodDelete, path: path, token: admin}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, request{method: http.MethodDelete, path: "/api/v1/admin/questions/x", token: admin}).Code)
}

func TestTelegramUserEndpoints(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, request{method: http.MethodPost, path: "/api/v1/telegram-users", asBot: "bot", body: TelegramUserRequest{TelegramID: 77, Username: "ann"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[map[string]any](t, w)
	assert.Equal(t, "77", got["user_id"])
	assert.Equal(t, true, got["created"])

	w = e.do(t, request{method: http.MethodPut, path: "/api/v1/telegram-users/77/nickname", asBot: "bot", body: NicknameRequest{Nickname: "Annie"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Annie", decode[map[string]any](t, w)["nickname"])

	assert.Equal(t, http.StatusNotFound, e.do(t, request{method: http.MethodPut, path: "/api/v1/telegram-users/78/nickname", asBot: "bot", body: NicknameRequest{Nickname: "x"}}).Code)

	w = e.do(t, request{method: http.MethodGet, path: "/api/v1/telegram-users/77/history", asBot: "bot"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAuthEndpoints(t *testing.T) {
	e := newEnv(t)

	reg := RegisterRequest{Username: "boss", Password: "secret123", UserID: "admin"}
	assert.Equal(t, http.StatusUnauthorized, e.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: reg}).Code)
	assert.Equal(t, http.StatusCreated, e.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", asBot: "bot", body: reg}).Code)
	assert.Equal(t, http.StatusConflict, e.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", asBot: "bot", body: reg}).Code)

	w := e.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login", body: LoginRequest{Username: "boss", Password: "secret123"}})
	require.Equal(t, http.StatusOK, w.Code)
	claims, err := e.auth.ValidateToken(decode[AuthResponse](t, w).Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.UserID)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login", body: LoginRequest{Username: "boss", Password: "nope"}}).Code)

	w = e.do(t, request{method: http.MethodPost, path: "/api/v1/auth/token", asBot: "bot", body: TokenRequest{UserID: "5"}})
	require.Equal(t, http.StatusOK, w.Code)
	claims, err = e.auth.ValidateToken(decode[AuthResponse](t, w).Token)
	require.NoError(t, err)
	assert.Equal(t, "5", claims.UserID)
	assert.False(t, claims.Admin)
}

func TestWriteErrorStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err  error
		want int
	}{
		{&services.EntitlementError{UserID: "1", Reason: services.EntitlementPremiumRequired}, http.StatusForbidden},
		{fmt.Errorf("wrap: %w", services.ErrSessionNotFound), http.StatusNotFound},
		{services.ErrInvalidStake, http.StatusBadRequest},
		{game.ErrUnknownParticipant, http.StatusForbidden},
		{services.ErrAlreadyQueued, http.StatusConflict},
		{services.ErrNotEnoughQuestions, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		writeError(c, tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}
