package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/events"
	"github.com/elmedianur/deutsche/internal/game"
)

type ModerationService struct {
	users      *TelegramUserService
	matchmaker *MatchmakerService
	sessions   *SessionService
	publisher  events.Publisher
	caps       *Capabilities
	clock      clock.Clock
	log        zerolog.Logger
}

func NewModerationService(users *TelegramUserService, matchmaker *MatchmakerService, sessions *SessionService, publisher events.Publisher, caps *Capabilities, clk clock.Clock, log zerolog.Logger) *ModerationService {
	return &ModerationService{
		users:      users,
		matchmaker: matchmaker,
		sessions:   sessions,
		publisher:  publisher,
		caps:       caps,
		clock:      clk,
		log:        log.With().Str("component", "moderation").Logger(),
	}
}

// BlockUser bars a user from competing. Their lobby stake is refunded and
// every live session they play in is cancelled with full refunds.
func (s *ModerationService) BlockUser(ctx context.Context, actor, userID string) error {
	if !s.caps.HasCapability(actor, CapBlockUser) {
		return ErrForbidden
	}
	telegramID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return ErrUserNotFound
	}

	now := s.clock.Now()
	if err := s.users.SetBlocked(ctx, telegramID, true, now); err != nil {
		return fmt.Errorf("block user: %w", err)
	}

	var result *multierror.Error
	if err := s.matchmaker.Remove(ctx, userID); err != nil {
		result = multierror.Append(result, err)
	}

	live, err := s.sessions.SessionsOf(ctx, userID)
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, sess := range live {
		if err := s.sessions.cancel(ctx, sess.ID, game.ReasonBlocked, actor); err != nil && !errors.Is(err, ErrSessionNotFound) {
			result = multierror.Append(result, err)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishUserBlocked(ctx, userID, actor, now); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to publish user block")
		}
	}
	s.log.Info().Str("user_id", userID).Str("actor", actor).Int("sessions", len(live)).Msg("user blocked")
	return result.ErrorOrNil()
}

func (s *ModerationService) UnblockUser(ctx context.Context, actor, userID string) error {
	if !s.caps.HasCapability(actor, CapBlockUser) {
		return ErrForbidden
	}
	telegramID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return ErrUserNotFound
	}
	if err := s.users.SetBlocked(ctx, telegramID, false, s.clock.Now()); err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	s.log.Info().Str("user_id", userID).Str("actor", actor).Msg("user unblocked")
	return nil
}

func (s *ModerationService) IsBlocked(ctx context.Context, userID string) (bool, error) {
	return s.users.IsBlocked(ctx, userID)
}
