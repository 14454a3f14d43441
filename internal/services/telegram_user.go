package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/elmedianur/deutsche/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type TelegramUserService struct {
	db *gorm.DB
}

func NewTelegramUserService(db *gorm.DB) *TelegramUserService {
	return &TelegramUserService{db: db}
}

// UserID is the arena identity of a Telegram user.
func UserID(telegramID int64) string {
	return strconv.FormatInt(telegramID, 10)
}

func (s *TelegramUserService) GetOrCreate(ctx context.Context, telegramID, chatID int64, username, nickname string) (*models.TelegramUser, bool, error) {
	var user models.TelegramUser
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err == nil {
		if chatID != 0 && user.ChatID != chatID {
			user.ChatID = chatID
			if err := s.db.WithContext(ctx).Model(&user).Update("chat_id", chatID).Error; err != nil {
				return nil, false, err
			}
		}
		return &user, false, nil
	}

	if nickname == "" {
		nickname = username
	}
	user = models.TelegramUser{
		TelegramID: telegramID,
		ChatID:     chatID,
		Username:   username,
		Nickname:   nickname,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, false, err
	}
	return &user, true, nil
}

func (s *TelegramUserService) Get(ctx context.Context, telegramID int64) (*models.TelegramUser, error) {
	var user models.TelegramUser
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *TelegramUserService) UpdateNickname(ctx context.Context, telegramID int64, nickname string) (*models.TelegramUser, error) {
	user, err := s.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	user.Nickname = nickname
	user.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// SetBlocked flips the blocked flag, creating the user row if the user never
// talked to the bot.
func (s *TelegramUserService) SetBlocked(ctx context.Context, telegramID int64, blocked bool, at time.Time) error {
	user, _, err := s.GetOrCreate(ctx, telegramID, 0, "", UserID(telegramID))
	if err != nil {
		return err
	}
	updates := map[string]any{"blocked": blocked, "blocked_at": nil}
	if blocked {
		updates["blocked_at"] = at
	}
	return s.db.WithContext(ctx).Model(user).Updates(updates).Error
}

// IsBlocked answers for arena user ids. Ids that are not Telegram ids are
// never blocked here.
func (s *TelegramUserService) IsBlocked(ctx context.Context, userID string) (bool, error) {
	telegramID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false, nil
	}
	var user models.TelegramUser
	err = s.db.WithContext(ctx).Select("blocked").Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Blocked, nil
}

// DisplayName is the nickname shown to other players, falling back to the
// user id.
func (s *TelegramUserService) DisplayName(ctx context.Context, userID string) string {
	telegramID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return userID
	}
	user, err := s.Get(ctx, telegramID)
	if err != nil || user.Nickname == "" {
		return userID
	}
	return user.Nickname
}
