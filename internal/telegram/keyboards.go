package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/elmedianur/deutsche/internal/game"
)

const (
	btnDuel       = "⚔️ Дуэль"
	btnTournament = "🏆 Турнир"
	btnBalance    = "⭐ Баланс"
	btnStats      = "📊 Статистика"
	btnHistory    = "🗂 История игр"
	btnLeave      = "🚪 Выйти"
)

var errBadCallback = errors.New("bad callback data")

// defaultStakes are offered as one-tap buttons; /duel <n> takes any amount.
var defaultStakes = []int64{5, 10, 25, 50}

func MainMenuKeyboard() *ReplyKeyboardMarkup {
	return &ReplyKeyboardMarkup{
		Keyboard: [][]KeyboardButton{
			{{Text: btnDuel}, {Text: btnTournament}},
			{{Text: btnBalance}, {Text: btnStats}},
			{{Text: btnHistory}, {Text: btnLeave}},
		},
		ResizeKeyboard: true,
	}
}

func StakeKeyboard(mode game.Mode, stakes []int64) *InlineKeyboardMarkup {
	row := make([]InlineKeyboardButton, 0, len(stakes))
	for _, s := range stakes {
		row = append(row, InlineKeyboardButton{
			Text:         fmt.Sprintf("%d ⭐", s),
			CallbackData: fmt.Sprintf("join:%s:%d", mode, s),
		})
	}
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{row}}
}

// AnswerKeyboard lists one button per choice. selected < 0 marks nothing.
func AnswerKeyboard(sessionID string, round int, choices []string, selected int) *InlineKeyboardMarkup {
	var rows [][]InlineKeyboardButton
	for i, choice := range choices {
		text := choice
		if i == selected {
			text = "✅ " + text
		}
		rows = append(rows, []InlineKeyboardButton{
			{Text: text, CallbackData: fmt.Sprintf("ans:%s:%d:%d", sessionID, round, i)},
		})
	}
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}

func parseAnswerData(data string) (sessionID string, round, choice int, err error) {
	parts := strings.Split(data, ":")
	if len(parts) != 4 || parts[0] != "ans" || parts[1] == "" {
		return "", 0, 0, errBadCallback
	}
	if round, err = strconv.Atoi(parts[2]); err != nil {
		return "", 0, 0, errBadCallback
	}
	if choice, err = strconv.Atoi(parts[3]); err != nil {
		return "", 0, 0, errBadCallback
	}
	return parts[1], round, choice, nil
}

func parseJoinData(data string) (game.Mode, int64, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != "join" {
		return "", 0, errBadCallback
	}
	stake, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, errBadCallback
	}
	return game.Mode(parts[1]), stake, nil
}
