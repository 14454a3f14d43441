package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/services"
)

type handlerFixture struct {
	api      *fakeAPI
	client   *Client
	arena    *fakeArena
	sessions *fakeSessions
	wallets  *fakeWallets
	handler  *UpdateHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	api, client := newFakeAPI(t)
	f := &handlerFixture{
		api:      api,
		client:   client,
		arena:    &fakeArena{},
		sessions: &fakeSessions{ack: services.AnswerAck{Accepted: true}},
		wallets:  &fakeWallets{},
	}
	f.handler = NewUpdateHandler(client, HandlerDeps{
		Arena:    f.arena,
		Sessions: f.sessions,
		Wallets:  f.wallets,
		Stats:    fakeStats{},
		Users:    fakeUsers{},
		Logger:   zerolog.Nop(),
	})
	return f
}

func textUpdate(text string) Update {
	return Update{Message: &Message{
		From: &User{ID: 42, FirstName: "Anna"},
		Chat: Chat{ID: 42},
		Text: text,
	}}
}

func callbackUpdate(data string) Update {
	return Update{CallbackQuery: &CallbackQuery{ID: "cb1", From: User{ID: 42}, Data: data}}
}

func TestDuelCommandJoins(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.Handle(context.Background(), textUpdate("/duel@arena_bot 10"))

	assert.Equal(t, []joinCall{{UserID: "42", Mode: game.ModeDuel, Stake: 10}}, f.arena.joined())
	// the lobby message comes from the matchmaker, not from here
	assert.Empty(t, f.api.byMethod("sendMessage"))
}

func TestJoinWithoutStakeOffersStakes(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.Handle(context.Background(), textUpdate(btnTournament))

	assert.Empty(t, f.arena.joined())
	sent := f.api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	rows := sent[0].Body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	first := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "join:tournament:5", first["callback_data"])

	f.handler.Handle(context.Background(), callbackUpdate("join:tournament:25"))
	assert.Equal(t, []joinCall{{UserID: "42", Mode: game.ModeTournament, Stake: 25}}, f.arena.joined())
	answers := f.api.byMethod("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "Ставка 25 ⭐ принята", answers[0].Body["text"])
}

func TestJoinErrorsAreShown(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"funds", &services.EntitlementError{UserID: "42", Reason: services.EntitlementInsufficientFunds}, "Недостаточно звёзд"},
		{"premium", &services.EntitlementError{UserID: "42", Reason: services.EntitlementPremiumRequired}, "только с премиумом"},
		{"blocked", &services.EntitlementError{UserID: "42", Reason: services.EntitlementBlocked}, "заблокирован"},
		{"queued", services.ErrAlreadyQueued, "/leave"},
		{"stake", services.ErrInvalidStake, "Недопустимая ставка"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.arena.joinErr = tt.err
			f.handler.Handle(context.Background(), textUpdate("/duel 10"))

			sent := f.api.byMethod("sendMessage")
			require.Len(t, sent, 1)
			assert.Contains(t, sent[0].text(), tt.want)
		})
	}
}

func TestAnswerCallback(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.Handle(ctx, callbackUpdate("ans:s1:2:3"))
	require.Len(t, f.sessions.submitted, 1)
	assert.Equal(t, submitCall{SessionID: "s1", ParticipantID: "42", Round: 2, Choice: 3}, f.sessions.submitted[0])

	f.sessions.ack = services.AnswerAck{Reason: "duplicate"}
	f.handler.Handle(ctx, callbackUpdate("ans:s1:2:1"))

	f.sessions.err = services.ErrSessionNotFound
	f.handler.Handle(ctx, callbackUpdate("ans:s1:2:1"))

	f.handler.Handle(ctx, callbackUpdate("ans:broken"))
	assert.Len(t, f.sessions.submitted, 3)

	answers := f.api.byMethod("answerCallbackQuery")
	require.Len(t, answers, 4)
	assert.Equal(t, "✅ Ответ принят!", answers[0].Body["text"])
	assert.Equal(t, "Вы уже ответили на этот вопрос", answers[1].Body["text"])
	assert.Equal(t, "Игра уже завершена", answers[2].Body["text"])
	assert.Equal(t, "Неверные данные", answers[3].Body["text"])
}

func TestLeaveForfeitsLiveSessions(t *testing.T) {
	f := newHandlerFixture(t)
	f.arena.leaveErr = services.ErrNotQueued
	f.sessions.live = []*game.Session{
		{ID: "s1", State: game.StateInProgress},
		{ID: "s2", State: game.StateSettled},
	}

	f.handler.Handle(context.Background(), textUpdate("/leave"))

	assert.Equal(t, []string{"s1"}, f.sessions.forfeits)
	sent := f.api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].text(), "Вы сдались")
}

func TestSuccessfulPaymentTopsUpOnce(t *testing.T) {
	f := newHandlerFixture(t)
	upd := textUpdate("")
	upd.Message.SuccessfulPayment = &SuccessfulPayment{
		Currency:                starsCurrency,
		TotalAmount:             50,
		TelegramPaymentChargeID: "ch_1",
	}

	f.handler.Handle(context.Background(), upd)
	f.handler.Handle(context.Background(), upd)

	assert.Equal(t, int64(50), f.wallets.balance)
	sent := f.api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].text(), "Зачислено <b>50 ⭐</b>")

	upd.Message.SuccessfulPayment = &SuccessfulPayment{Currency: "USD", TotalAmount: 5, TelegramPaymentChargeID: "ch_2"}
	f.handler.Handle(context.Background(), upd)
	assert.Equal(t, int64(50), f.wallets.balance)
}

func TestPreCheckoutOnlyAcceptsStars(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.Handle(context.Background(), Update{PreCheckoutQuery: &PreCheckoutQuery{ID: "q1", Currency: starsCurrency, TotalAmount: 100}})
	f.handler.Handle(context.Background(), Update{PreCheckoutQuery: &PreCheckoutQuery{ID: "q2", Currency: "EUR", TotalAmount: 100}})

	answers := f.api.byMethod("answerPreCheckoutQuery")
	require.Len(t, answers, 2)
	assert.Equal(t, true, answers[0].Body["ok"])
	assert.Equal(t, false, answers[1].Body["ok"])
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, cmd, args string
	}{
		{"/duel 10", "duel", "10"},
		{"/Duel@arena_bot  25 ", "duel", "25"},
		{"/start", "start", ""},
		{"hello", "", ""},
		{"/nickname Anna Maria", "nickname", "Anna Maria"},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(strings.TrimSpace(tt.in))
		assert.Equal(t, tt.cmd, cmd, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
}

func TestParseCallbackData(t *testing.T) {
	sid, round, choice, err := parseAnswerData("ans:0b6c1e5e-3f0a-4d55-9d4e-1c2f3a4b5c6d:4:1")
	require.NoError(t, err)
	assert.Equal(t, "0b6c1e5e-3f0a-4d55-9d4e-1c2f3a4b5c6d", sid)
	assert.Equal(t, 4, round)
	assert.Equal(t, 1, choice)

	for _, bad := range []string{"ans:s1:x:1", "ans::1:1", "ans:s1:1", "join:s1:1:1"} {
		_, _, _, err := parseAnswerData(bad)
		assert.ErrorIs(t, err, errBadCallback, bad)
	}

	mode, stake, err := parseJoinData("join:duel:50")
	require.NoError(t, err)
	assert.Equal(t, game.ModeDuel, mode)
	assert.Equal(t, int64(50), stake)
	_, _, err = parseJoinData("join:duel:lots")
	assert.ErrorIs(t, err, errBadCallback)
}

func TestWebhookChecksSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newHandlerFixture(t)
	m := NewBotManager(f.client, f.handler, "", "s3cret", 2, zerolog.Nop())
	r := gin.New()
	r.POST(WebhookPath, m.HandleWebhook)

	body := `{"update_id":1,"message":{"message_id":1,"from":{"id":42,"first_name":"Anna"},"chat":{"id":42},"text":"/duel 10"}}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader("{"))
	req.Header.Set(secretHeader, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body))
	req.Header.Set(secretHeader, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	m.Stop(context.Background())
	assert.Equal(t, []joinCall{{UserID: "42", Mode: game.ModeDuel, Stake: 10}}, f.arena.joined())
	assert.Empty(t, f.api.byMethod("deleteWebhook"))
}
