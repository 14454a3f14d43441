package services

import (
	"context"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/models"
)

const resultWriteTimeout = 30 * time.Second

type HistoryEntry struct {
	SessionID    string     `json:"session_id"`
	Mode         string     `json:"mode"`
	Stake        int64      `json:"stake"`
	Rank         int        `json:"rank"`
	TotalPlayers int        `json:"total_players"`
	Score        int        `json:"score"`
	Payout       int64      `json:"payout"`
	CloseReason  string     `json:"close_reason"`
	PlayedAt     *time.Time `json:"played_at,omitempty"`
}

// ResultService writes closed sessions to the database and serves history
// and duel statistics from it. Writes go through a single worker so duel
// stats of one user are updated in session close order.
type ResultService struct {
	db   *gorm.DB
	pool *workerpool.WorkerPool
	log  zerolog.Logger
}

func NewResultService(db *gorm.DB, log zerolog.Logger) *ResultService {
	return &ResultService{
		db:   db,
		pool: workerpool.New(1),
		log:  log.With().Str("component", "results").Logger(),
	}
}

// Submit queues sess for persistence and returns immediately.
func (s *ResultService) Submit(sess *game.Session) {
	cp := sess.Clone()
	s.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), resultWriteTimeout)
		defer cancel()
		if err := s.Save(ctx, cp); err != nil {
			s.log.Error().Err(err).Str("session_id", cp.ID).Msg("failed to save session result")
		}
	})
}

// Close waits for queued writes.
func (s *ResultService) Close() {
	s.pool.StopWait()
}

// Save stores a closed session once. Saving the same session again is a
// no-op.
func (s *ResultService) Save(ctx context.Context, sess *game.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.SessionRecord{
			ID:          sess.ID,
			Mode:        string(sess.Mode),
			Stake:       sess.Stake,
			State:       string(sess.State),
			CloseReason: sess.CloseReason,
			CreatedAt:   sess.CreatedAt,
			SettledAt:   sess.SettledAt,
			ClosedAt:    sess.ClosedAt,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		rounds := make([]models.SessionRound, 0, len(sess.Rounds))
		var answers []models.SessionAnswer
		for _, r := range sess.Rounds {
			if r.OpenedAt == nil {
				continue
			}
			rounds = append(rounds, models.SessionRound{
				SessionID:     sess.ID,
				Index:         r.Index,
				QuestionRef:   r.QuestionRef,
				CorrectChoice: r.CorrectChoice,
				OpenedAt:      r.OpenedAt,
				ClosesAt:      r.ClosesAt,
			})
			for userID, a := range r.Answers {
				answers = append(answers, models.SessionAnswer{
					SessionID:   sess.ID,
					RoundIndex:  r.Index,
					UserID:      userID,
					Choice:      a.Choice,
					IsCorrect:   r.Graded && a.Choice == r.CorrectChoice,
					Points:      r.Points[userID],
					ElapsedMs:   a.Elapsed.Milliseconds(),
					SubmittedAt: a.SubmittedAt,
				})
			}
		}
		if len(rounds) > 0 {
			if err := tx.Create(&rounds).Error; err != nil {
				return err
			}
		}
		if len(answers) > 0 {
			if err := tx.Create(&answers).Error; err != nil {
				return err
			}
		}

		ranking := sess.Ranking
		if len(ranking) == 0 {
			ranking = game.Rank(sess.Participants)
		}
		byUser := make(map[string]game.RankEntry, len(ranking))
		for _, e := range ranking {
			byUser[e.Participant] = e
		}
		participants := make([]models.SessionParticipant, len(sess.Participants))
		for i, p := range sess.Participants {
			e := byUser[p.UserID]
			participants[i] = models.SessionParticipant{
				SessionID:   sess.ID,
				UserID:      p.UserID,
				JoinOrder:   p.JoinOrder,
				Status:      string(p.Status),
				TotalScore:  p.RunningScore,
				ElapsedMs:   p.ElapsedSum.Milliseconds(),
				Rank:        e.Rank,
				Payout:      e.Payout,
				PremiumDays: e.PremiumDays,
				JoinedAt:    sess.CreatedAt,
			}
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}

		if sess.Mode == game.ModeDuel && sess.CloseReason == game.ReasonCompleted && len(sess.Ranking) > 0 {
			return recordDuel(tx, sess)
		}
		return nil
	})
}

func recordDuel(tx *gorm.DB, sess *game.Session) error {
	winner := sess.Ranking[0].Participant
	for _, e := range sess.Ranking {
		stats := models.DuelStats{
			UserID:     e.Participant,
			Rating:     models.DuelStartingRating,
			PeakRating: models.DuelStartingRating,
		}
		if err := tx.Where("user_id = ?", e.Participant).FirstOrInit(&stats).Error; err != nil {
			return err
		}
		stats.Record(e.Participant == winner, sess.Stake)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&stats).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *ResultService) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var mine []models.SessionParticipant
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&mine).Error; err != nil {
		return nil, err
	}
	if len(mine) == 0 {
		return []HistoryEntry{}, nil
	}
	ids := make([]string, len(mine))
	for i, p := range mine {
		ids[i] = p.SessionID
	}

	var records []models.SessionRecord
	if err := s.db.WithContext(ctx).
		Preload("Participants").
		Where("id IN ?", ids).
		Order("closed_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		entry := HistoryEntry{
			SessionID:    r.ID,
			Mode:         r.Mode,
			Stake:        r.Stake,
			TotalPlayers: len(r.Participants),
			CloseReason:  r.CloseReason,
			PlayedAt:     r.ClosedAt,
		}
		for _, p := range r.Participants {
			if p.UserID == userID {
				entry.Rank = p.Rank
				entry.Score = p.TotalScore
				entry.Payout = p.Payout
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *ResultService) Session(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	var record models.SessionRecord
	err := s.db.WithContext(ctx).
		Preload("Rounds", func(db *gorm.DB) *gorm.DB { return db.Order("round_index ASC") }).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("rank ASC") }).
		First(&record, "id = ?", sessionID).Error
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return &record, nil
}

func (s *ResultService) DuelStats(ctx context.Context, userID string) (models.DuelStats, error) {
	stats := models.DuelStats{
		UserID:     userID,
		Rating:     models.DuelStartingRating,
		PeakRating: models.DuelStartingRating,
	}
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).FirstOrInit(&stats).Error
	return stats, err
}

func (s *ResultService) TopPlayers(ctx context.Context, limit int) ([]models.DuelStats, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var top []models.DuelStats
	err := s.db.WithContext(ctx).
		Where("total > 0").
		Order("rating DESC, wins DESC, user_id ASC").
		Limit(limit).
		Find(&top).Error
	return top, err
}
