package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/models"
	"github.com/elmedianur/deutsche/internal/services"
)

type apiCall struct {
	Method string
	Body   map[string]any
}

func (c apiCall) text() string {
	s, _ := c.Body["text"].(string)
	return s
}

// fakeAPI is a Bot API server that records calls. Methods listed in fail
// answer with that error code.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []apiCall
	fail   map[string]int
	nextID int64
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{fail: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, NewClientWithURL(srv.URL, "test-token")
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Body: body})
	code := f.fail[method]
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if code != 0 {
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  code,
			"description": "Forbidden: bot was blocked by the user",
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":     true,
		"result": map[string]any{"message_id": id},
	})
}

func (f *fakeAPI) failWith(method string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = code
}

func (f *fakeAPI) byMethod(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

type joinCall struct {
	UserID string
	Mode   game.Mode
	Stake  int64
}

type fakeArena struct {
	mu       sync.Mutex
	joins    []joinCall
	joinErr  error
	leaveErr error
}

func (f *fakeArena) Join(_ context.Context, userID string, mode game.Mode, stake int64) (services.JoinResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, joinCall{userID, mode, stake})
	if f.joinErr != nil {
		return services.JoinResult{}, f.joinErr
	}
	return services.JoinResult{Status: services.JoinStatusPending, LobbyID: "l1", Members: 1}, nil
}

func (f *fakeArena) Leave(context.Context, string) error { return f.leaveErr }

func (f *fakeArena) joined() []joinCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]joinCall(nil), f.joins...)
}

type submitCall struct {
	SessionID     string
	ParticipantID string
	Round         int
	Choice        int
}

type fakeSessions struct {
	ack       services.AnswerAck
	err       error
	submitted []submitCall
	live      []*game.Session
	forfeits  []string
}

func (f *fakeSessions) SubmitAnswer(_ context.Context, sessionID, participantID string, round, choice int, _ time.Time) (services.AnswerAck, error) {
	f.submitted = append(f.submitted, submitCall{sessionID, participantID, round, choice})
	return f.ack, f.err
}

func (f *fakeSessions) SessionsOf(context.Context, string) ([]*game.Session, error) {
	return f.live, nil
}

func (f *fakeSessions) Forfeit(_ context.Context, sessionID, _ string) error {
	f.forfeits = append(f.forfeits, sessionID)
	return nil
}

type fakeWallets struct {
	balance int64
	charges map[string]bool
}

func (f *fakeWallets) Wallet(userID string) services.Wallet {
	return services.Wallet{UserID: userID, Balance: f.balance}
}

func (f *fakeWallets) TopUp(_ context.Context, userID string, amount int64, chargeID string) (ledger.Result, error) {
	if f.charges == nil {
		f.charges = map[string]bool{}
	}
	tx := ledger.Transaction{Account: userID, Delta: amount, IdempotencyKey: "topup:" + chargeID}
	if f.charges[chargeID] {
		return ledger.Result{Transaction: tx, Replayed: true}, nil
	}
	f.charges[chargeID] = true
	f.balance += amount
	return ledger.Result{Transaction: tx}, nil
}

type fakeStats struct{}

func (fakeStats) DuelStats(_ context.Context, userID string) (models.DuelStats, error) {
	return models.DuelStats{UserID: userID, Rating: models.DuelStartingRating, PeakRating: models.DuelStartingRating}, nil
}

func (fakeStats) History(context.Context, string, int) ([]services.HistoryEntry, error) {
	return nil, nil
}

type fakeUsers struct{}

func (fakeUsers) GetOrCreate(_ context.Context, telegramID, chatID int64, username, nickname string) (*models.TelegramUser, bool, error) {
	return &models.TelegramUser{TelegramID: telegramID, ChatID: chatID, Username: username, Nickname: nickname}, true, nil
}

func (fakeUsers) UpdateNickname(_ context.Context, telegramID int64, nickname string) (*models.TelegramUser, error) {
	return &models.TelegramUser{TelegramID: telegramID, Nickname: nickname}, nil
}
