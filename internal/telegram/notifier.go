package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/transport"
)

// Names resolves user ids to the names shown in standings.
type Names interface {
	DisplayName(ctx context.Context, userID string) string
}

type idNames struct{}

func (idNames) DisplayName(_ context.Context, userID string) string { return userID }

// Notifier is the Telegram transport. Players are Telegram users talking to
// the bot in a private chat, so a participant id is also its chat id.
type Notifier struct {
	client *Client
	state  *StateManager
	names  Names
	log    zerolog.Logger

	onUnreachable func(sessionID, participantID string)
}

func NewNotifier(client *Client, state *StateManager, names Names, log zerolog.Logger) *Notifier {
	if names == nil {
		names = idNames{}
	}
	return &Notifier{
		client: client,
		state:  state,
		names:  names,
		log:    log.With().Str("component", "telegram_notifier").Logger(),
	}
}

// OnUnreachable registers fn for participants whose chat refuses messages.
// fn runs on its own goroutine because Deliver is called with the session
// locked.
func (n *Notifier) OnUnreachable(fn func(sessionID, participantID string)) {
	n.onUnreachable = fn
}

func (n *Notifier) Deliver(ctx context.Context, sessionID, participantID string, msg transport.Message) error {
	chatID, err := strconv.ParseInt(participantID, 10, 64)
	if err != nil {
		// not a Telegram user
		return nil
	}

	err = n.deliver(ctx, chatID, participantID, msg)
	if err != nil && IsUnreachable(err) && n.onUnreachable != nil {
		n.log.Info().Str("session_id", sessionID).Str("participant", participantID).Msg("chat unreachable")
		go n.onUnreachable(sessionID, participantID)
	}
	return err
}

func (n *Notifier) deliver(ctx context.Context, chatID int64, participantID string, msg transport.Message) error {
	switch data := msg.Data.(type) {
	case transport.RoundOpened:
		return n.roundOpened(ctx, chatID, data)
	case transport.RoundGraded:
		return n.roundGraded(ctx, chatID, participantID, data)
	case game.Settlement:
		n.state.Clear(chatID, data.SessionID)
		if msg.Type == transport.TypeSessionCancelled {
			_, err := n.client.SendMessage(ctx, chatID, cancelledText(data), "HTML", MainMenuKeyboard())
			return err
		}
		_, err := n.client.SendMessage(ctx, chatID, n.settlementText(ctx, data, participantID), "HTML", MainMenuKeyboard())
		return err
	case transport.LobbyStatus:
		_, err := n.client.SendMessage(ctx, chatID, lobbyText(msg.Type, data), "HTML", nil)
		return err
	default:
		n.log.Debug().Str("type", msg.Type).Msg("no telegram rendering")
		return nil
	}
}

func questionText(round, total int, prompt string) string {
	return fmt.Sprintf("❓ <b>Вопрос %d из %d</b>\n\n%s", round+1, total, html.EscapeString(prompt))
}

func (n *Notifier) roundOpened(ctx context.Context, chatID int64, r transport.RoundOpened) error {
	kb := AnswerKeyboard(r.SessionID, r.Round, r.Choices, -1)
	msgID, err := n.client.SendMessage(ctx, chatID, questionText(r.Round, r.TotalRounds, r.Prompt), "HTML", kb)
	if err != nil {
		return err
	}
	n.state.Set(chatID, RoundMessage{
		SessionID:   r.SessionID,
		Round:       r.Round,
		TotalRounds: r.TotalRounds,
		MessageID:   msgID,
		Prompt:      r.Prompt,
		Choices:     r.Choices,
	})
	return nil
}

func (n *Notifier) roundGraded(ctx context.Context, chatID int64, participantID string, g transport.RoundGraded) error {
	rm, ok := n.state.Get(chatID, g.SessionID)
	if !ok || rm.Round != g.Round {
		// the question message is gone after a restart; report the outcome
		// without it
		rm = RoundMessage{SessionID: g.SessionID, Round: g.Round}
	}

	var b strings.Builder
	if rm.MessageID != 0 {
		b.WriteString(questionText(rm.Round, rm.TotalRounds, rm.Prompt))
		b.WriteString("\n\n")
	}
	choice, answered := g.Choices[participantID]
	switch {
	case !answered:
		b.WriteString("⏰ Вы не успели ответить")
	case choice == g.CorrectChoice:
		fmt.Fprintf(&b, "✅ <b>Правильно!</b> +%d", g.Points[participantID])
	default:
		b.WriteString("❌ <b>Неправильно</b>")
	}
	if g.CorrectChoice >= 0 && g.CorrectChoice < len(rm.Choices) {
		fmt.Fprintf(&b, "\n\nПравильный ответ: <b>%s</b>", html.EscapeString(rm.Choices[g.CorrectChoice]))
	}
	for _, e := range g.Standings {
		if e.Participant == participantID {
			fmt.Fprintf(&b, "\nВсего очков: <b>%d</b> | Место: %d из %d", e.Score, e.Rank, len(g.Standings))
			break
		}
	}

	if rm.MessageID != 0 {
		err := n.client.EditMessageText(ctx, chatID, rm.MessageID, b.String(), "HTML", nil)
		if err == nil || IsUnreachable(err) {
			return err
		}
	}
	_, err := n.client.SendMessage(ctx, chatID, b.String(), "HTML", nil)
	return err
}

var medals = map[int]string{1: "🥇", 2: "🥈", 3: "🥉"}

func (n *Notifier) settlementText(ctx context.Context, st game.Settlement, participantID string) string {
	lines := []string{"🏆 <b>Игра завершена! Итоги:</b>\n"}
	var mine *game.RankEntry
	for i, e := range st.Ranking {
		medal, ok := medals[e.Rank]
		if !ok {
			medal = fmt.Sprintf("%d.", e.Rank)
		}
		name := html.EscapeString(n.names.DisplayName(ctx, e.Participant))
		lines = append(lines, fmt.Sprintf("%s <b>%s</b> — %d очков", medal, name, e.Score))
		if e.Participant == participantID {
			mine = &st.Ranking[i]
		}
	}
	if mine != nil {
		lines = append(lines, fmt.Sprintf("\n📍 Ваше место: <b>%d</b>", mine.Rank))
		if mine.Payout > 0 {
			lines = append(lines, fmt.Sprintf("💰 Выигрыш: <b>%d ⭐</b>", mine.Payout))
		}
		if mine.PremiumDays > 0 {
			lines = append(lines, fmt.Sprintf("👑 Премиум: +%d дн.", mine.PremiumDays))
		}
	}
	return strings.Join(lines, "\n")
}

func cancelledText(st game.Settlement) string {
	if st.Reason == game.ReasonBlocked {
		return "⛔️ Игра остановлена модератором. Ставки возвращены."
	}
	return "🚫 Игра отменена. Ставки возвращены."
}

func lobbyText(msgType string, l transport.LobbyStatus) string {
	if msgType == transport.TypeLobbyExpired {
		if l.Reason == "start_failed" {
			return fmt.Sprintf("⚠️ Не удалось начать игру. Ставка %d ⭐ возвращена.", l.Stake)
		}
		return fmt.Sprintf("⌛️ Соперники не нашлись. Ставка %d ⭐ возвращена.", l.Stake)
	}
	if l.Mode == game.ModeDuel {
		return fmt.Sprintf("⏳ Ищем соперника для дуэли на %d ⭐...", l.Stake)
	}
	return fmt.Sprintf("⏳ Турнир на %d ⭐: игроков в лобби %d. Ожидаем остальных...", l.Stake, l.Members)
}
