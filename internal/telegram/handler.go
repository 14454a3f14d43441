package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/models"
	"github.com/elmedianur/deutsche/internal/services"
)

// starsCurrency is the currency code of Telegram Stars payments.
const starsCurrency = "XTR"

type Arena interface {
	Join(ctx context.Context, userID string, mode game.Mode, stake int64) (services.JoinResult, error)
	Leave(ctx context.Context, userID string) error
}

type Sessions interface {
	SubmitAnswer(ctx context.Context, sessionID, participantID string, round, choice int, at time.Time) (services.AnswerAck, error)
	SessionsOf(ctx context.Context, userID string) ([]*game.Session, error)
	Forfeit(ctx context.Context, sessionID, userID string) error
}

type Wallets interface {
	Wallet(userID string) services.Wallet
	TopUp(ctx context.Context, userID string, amount int64, chargeID string) (ledger.Result, error)
}

type Stats interface {
	DuelStats(ctx context.Context, userID string) (models.DuelStats, error)
	History(ctx context.Context, userID string, limit int) ([]services.HistoryEntry, error)
}

type Users interface {
	GetOrCreate(ctx context.Context, telegramID, chatID int64, username, nickname string) (*models.TelegramUser, bool, error)
	UpdateNickname(ctx context.Context, telegramID int64, nickname string) (*models.TelegramUser, error)
}

type HandlerDeps struct {
	Arena    Arena
	Sessions Sessions
	Wallets  Wallets
	Stats    Stats
	Users    Users
	Logger   zerolog.Logger
}

type UpdateHandler struct {
	client   *Client
	arena    Arena
	sessions Sessions
	wallets  Wallets
	stats    Stats
	users    Users
	log      zerolog.Logger
}

func NewUpdateHandler(client *Client, deps HandlerDeps) *UpdateHandler {
	return &UpdateHandler{
		client:   client,
		arena:    deps.Arena,
		sessions: deps.Sessions,
		wallets:  deps.Wallets,
		stats:    deps.Stats,
		users:    deps.Users,
		log:      deps.Logger.With().Str("component", "telegram_handler").Logger(),
	}
}

func (h *UpdateHandler) Handle(ctx context.Context, upd Update) {
	switch {
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	case upd.PreCheckoutQuery != nil:
		h.handlePreCheckout(ctx, upd.PreCheckoutQuery)
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	}
}

func (h *UpdateHandler) send(ctx context.Context, chatID int64, text string, markup any) {
	if _, err := h.client.SendMessage(ctx, chatID, text, "HTML", markup); err != nil {
		h.log.Warn().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}

func (h *UpdateHandler) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil {
		return
	}
	userID := services.UserID(msg.From.ID)
	chatID := msg.Chat.ID

	if msg.SuccessfulPayment != nil {
		h.onPayment(ctx, chatID, userID, msg.SuccessfulPayment)
		return
	}

	text := strings.TrimSpace(msg.Text)
	cmd, args := splitCommand(text)

	switch {
	case cmd == "start":
		h.cmdStart(ctx, msg)
	case cmd == "duel" || text == btnDuel:
		h.cmdJoin(ctx, chatID, userID, game.ModeDuel, args)
	case cmd == "tournament" || text == btnTournament:
		h.cmdJoin(ctx, chatID, userID, game.ModeTournament, args)
	case cmd == "leave" || text == btnLeave:
		h.cmdLeave(ctx, chatID, userID)
	case cmd == "balance" || text == btnBalance:
		h.cmdBalance(ctx, chatID, userID)
	case cmd == "stats" || text == btnStats:
		h.cmdStats(ctx, chatID, userID)
	case cmd == "history" || text == btnHistory:
		h.cmdHistory(ctx, chatID, userID)
	case cmd == "nickname":
		h.cmdNickname(ctx, chatID, msg.From.ID, args)
	default:
		h.send(ctx, chatID, "Используйте /start или кнопки меню.", MainMenuKeyboard())
	}
}

func (h *UpdateHandler) cmdStart(ctx context.Context, msg *Message) {
	firstName := msg.From.FirstName
	if firstName == "" {
		firstName = "Player"
	}
	user, _, err := h.users.GetOrCreate(ctx, msg.From.ID, msg.Chat.ID, msg.From.Username, firstName)
	if err != nil {
		h.log.Error().Err(err).Int64("telegram_id", msg.From.ID).Msg("failed to register user")
		h.send(ctx, msg.Chat.ID, "Ошибка загрузки профиля, попробуйте позже.", nil)
		return
	}
	h.send(ctx, msg.Chat.ID,
		fmt.Sprintf("👋 Привет, <b>%s</b>!\n\n⚔️ Дуэль: один на один, победитель забирает банк.\n🏆 Турнир: призы за первые три места.\n\nВыберите действие:", html.EscapeString(user.Nickname)),
		MainMenuKeyboard())
}

func (h *UpdateHandler) cmdJoin(ctx context.Context, chatID int64, userID string, mode game.Mode, args string) {
	if args == "" {
		h.send(ctx, chatID, "Выберите ставку или отправьте /"+string(mode)+" &lt;ставка&gt;:", StakeKeyboard(mode, defaultStakes))
		return
	}
	stake, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		h.send(ctx, chatID, "Ставка должна быть числом.", nil)
		return
	}
	if text := h.join(ctx, userID, mode, stake); text != "" {
		h.send(ctx, chatID, text, nil)
	}
}

// join returns the text to show when the user could not enter. Success is
// reported by the lobby and round messages themselves.
func (h *UpdateHandler) join(ctx context.Context, userID string, mode game.Mode, stake int64) string {
	_, err := h.arena.Join(ctx, userID, mode, stake)
	if err == nil {
		return ""
	}

	var ent *services.EntitlementError
	switch {
	case errors.As(err, &ent):
		switch ent.Reason {
		case services.EntitlementInsufficientFunds:
			return "⭐ Недостаточно звёзд для этой ставки."
		case services.EntitlementPremiumRequired:
			return "👑 Турниры доступны только с премиумом."
		case services.EntitlementBlocked:
			return "⛔️ Ваш аккаунт заблокирован."
		}
	case errors.Is(err, services.ErrAlreadyQueued):
		return "Вы уже ожидаете в лобби. Отправьте /leave, чтобы выйти."
	case errors.Is(err, services.ErrInvalidStake), errors.Is(err, services.ErrInvalidMode):
		return "Недопустимая ставка."
	}
	h.log.Error().Err(err).Str("user_id", userID).Str("mode", string(mode)).Msg("join failed")
	return "Ошибка, попробуйте позже."
}

// cmdLeave leaves the lobby, or forfeits running sessions when the user is
// not waiting in one.
func (h *UpdateHandler) cmdLeave(ctx context.Context, chatID int64, userID string) {
	err := h.arena.Leave(ctx, userID)
	if err == nil {
		h.send(ctx, chatID, "Вы вышли из лобби, ставка возвращена.", MainMenuKeyboard())
		return
	}
	if !errors.Is(err, services.ErrNotQueued) {
		h.log.Error().Err(err).Str("user_id", userID).Msg("leave failed")
		h.send(ctx, chatID, "Ошибка, попробуйте позже.", nil)
		return
	}

	live, err := h.sessions.SessionsOf(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("list sessions failed")
		h.send(ctx, chatID, "Ошибка, попробуйте позже.", nil)
		return
	}
	forfeited := 0
	for _, sess := range live {
		if sess.State != game.StateInProgress && sess.State != game.StateGrading {
			continue
		}
		if err := h.sessions.Forfeit(ctx, sess.ID, userID); err != nil {
			h.log.Warn().Err(err).Str("session_id", sess.ID).Str("user_id", userID).Msg("forfeit failed")
			continue
		}
		forfeited++
	}
	if forfeited == 0 {
		h.send(ctx, chatID, "Вы сейчас не участвуете в игре.", MainMenuKeyboard())
		return
	}
	h.send(ctx, chatID, "🏳️ Вы сдались. Ставка остаётся в банке.", MainMenuKeyboard())
}

func (h *UpdateHandler) cmdBalance(ctx context.Context, chatID int64, userID string) {
	w := h.wallets.Wallet(userID)
	text := fmt.Sprintf("⭐ Баланс: <b>%d</b>", w.Balance)
	if w.Premium && w.PremiumUntil != nil {
		text += fmt.Sprintf("\n👑 Премиум до %s", w.PremiumUntil.Format("02.01.2006"))
	}
	h.send(ctx, chatID, text, nil)
}

func (h *UpdateHandler) cmdStats(ctx context.Context, chatID int64, userID string) {
	st, err := h.stats.DuelStats(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("duel stats failed")
		h.send(ctx, chatID, "Ошибка загрузки статистики.", nil)
		return
	}
	h.send(ctx, chatID, fmt.Sprintf(
		"📊 <b>Дуэли</b>\n\nРейтинг: <b>%d</b> (пик %d)\nПобед: %d | Поражений: %d | %.0f%%\nСерия: %d (лучшая %d)",
		st.Rating, st.PeakRating, st.Wins, st.Losses, st.WinRate(), st.CurrentStreak, st.LongestStreak), nil)
}

func (h *UpdateHandler) cmdHistory(ctx context.Context, chatID int64, userID string) {
	entries, err := h.stats.History(ctx, userID, 20)
	if err != nil || len(entries) == 0 {
		h.send(ctx, chatID, "📊 У вас пока нет завершённых игр.", nil)
		return
	}

	lines := []string{"🗂 <b>Ваша история игр:</b>\n"}
	for _, e := range entries {
		medal, ok := medals[e.Rank]
		if !ok {
			medal = fmt.Sprintf("%d.", e.Rank)
		}
		title := "Дуэль"
		if e.Mode == string(game.ModeTournament) {
			title = "Турнир"
		}
		line := fmt.Sprintf("%s <b>%s</b> на %d ⭐\n   Очки: %d | Место: %d/%d", medal, title, e.Stake, e.Score, e.Rank, e.TotalPlayers)
		if e.Payout > 0 {
			line += fmt.Sprintf(" | +%d ⭐", e.Payout)
		}
		if e.CloseReason != game.ReasonCompleted {
			line += " | отменена"
		}
		lines = append(lines, line)
	}
	h.send(ctx, chatID, strings.Join(lines, "\n"), nil)
}

func (h *UpdateHandler) cmdNickname(ctx context.Context, chatID, telegramID int64, nickname string) {
	if nickname == "" {
		h.send(ctx, chatID, "Использование: /nickname Ваш_новый_ник", nil)
		return
	}
	if len([]rune(nickname)) > 100 {
		h.send(ctx, chatID, "Никнейм слишком длинный (макс 100 символов)", nil)
		return
	}
	user, err := h.users.UpdateNickname(ctx, telegramID, nickname)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			h.send(ctx, chatID, "Сначала отправьте /start.", nil)
			return
		}
		h.log.Error().Err(err).Int64("telegram_id", telegramID).Msg("update nickname failed")
		h.send(ctx, chatID, "Ошибка, попробуйте позже.", nil)
		return
	}
	h.send(ctx, chatID, fmt.Sprintf("✅ Никнейм изменён на: <b>%s</b>", html.EscapeString(user.Nickname)), MainMenuKeyboard())
}

func (h *UpdateHandler) onPayment(ctx context.Context, chatID int64, userID string, p *SuccessfulPayment) {
	if p.Currency != starsCurrency {
		h.log.Warn().Str("currency", p.Currency).Str("user_id", userID).Msg("ignoring payment in unexpected currency")
		return
	}
	res, err := h.wallets.TopUp(ctx, userID, p.TotalAmount, p.TelegramPaymentChargeID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Str("charge_id", p.TelegramPaymentChargeID).Msg("top-up failed")
		h.send(ctx, chatID, "Платёж получен, но зачисление не удалось. Мы разберёмся.", nil)
		return
	}
	if res.Replayed {
		return
	}
	h.send(ctx, chatID, fmt.Sprintf("✅ Зачислено <b>%d ⭐</b>. Баланс: <b>%d</b>", res.Transaction.Delta, h.wallets.Wallet(userID).Balance), nil)
}

func (h *UpdateHandler) handlePreCheckout(ctx context.Context, q *PreCheckoutQuery) {
	ok := q.Currency == starsCurrency && q.TotalAmount > 0
	errMsg := ""
	if !ok {
		errMsg = "Оплата возможна только звёздами."
	}
	if err := h.client.AnswerPreCheckoutQuery(ctx, q.ID, ok, errMsg); err != nil {
		h.log.Error().Err(err).Str("query_id", q.ID).Msg("answer pre-checkout failed")
	}
}

func (h *UpdateHandler) answerCallback(ctx context.Context, id, text string, alert bool) {
	if err := h.client.AnswerCallbackQuery(ctx, id, text, alert); err != nil {
		h.log.Warn().Err(err).Str("callback_id", id).Msg("answer callback failed")
	}
}

func (h *UpdateHandler) handleCallback(ctx context.Context, cb *CallbackQuery) {
	userID := services.UserID(cb.From.ID)
	switch {
	case strings.HasPrefix(cb.Data, "ans:"):
		h.onAnswer(ctx, cb, userID)
	case strings.HasPrefix(cb.Data, "join:"):
		mode, stake, err := parseJoinData(cb.Data)
		if err != nil {
			h.answerCallback(ctx, cb.ID, "Неверные данные", true)
			return
		}
		if text := h.join(ctx, userID, mode, stake); text != "" {
			h.answerCallback(ctx, cb.ID, text, true)
			return
		}
		h.answerCallback(ctx, cb.ID, fmt.Sprintf("Ставка %d ⭐ принята", stake), false)
	default:
		h.answerCallback(ctx, cb.ID, "Неверные данные", true)
	}
}

var rejectionTexts = map[string]string{
	"duplicate":        "Вы уже ответили на этот вопрос",
	"deadline_passed":  "Время для ответа вышло",
	"not_active_round": "Этот вопрос уже закрыт",
}

func (h *UpdateHandler) onAnswer(ctx context.Context, cb *CallbackQuery, userID string) {
	sessionID, round, choice, err := parseAnswerData(cb.Data)
	if err != nil {
		h.answerCallback(ctx, cb.ID, "Неверные данные", true)
		return
	}

	// the webhook arrives within moments of the tap; the server clock is the
	// receive time
	ack, err := h.sessions.SubmitAnswer(ctx, sessionID, userID, round, choice, time.Time{})
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		h.answerCallback(ctx, cb.ID, "Игра уже завершена", true)
		return
	case errors.Is(err, game.ErrUnknownParticipant):
		h.answerCallback(ctx, cb.ID, "Вы не участвуете в этой игре", true)
		return
	case err != nil:
		h.log.Error().Err(err).Str("session_id", sessionID).Str("user_id", userID).Msg("submit answer failed")
		h.answerCallback(ctx, cb.ID, "Ошибка, попробуйте ещё раз", true)
		return
	}

	if !ack.Accepted {
		text, ok := rejectionTexts[ack.Reason]
		if !ok {
			text = "Ответ не принят"
		}
		h.answerCallback(ctx, cb.ID, text, false)
		return
	}
	h.answerCallback(ctx, cb.ID, "✅ Ответ принят!", false)
}

// splitCommand turns "/duel@arena_bot 10" into ("duel", "10"). Text that is
// not a command yields an empty cmd.
func splitCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}
