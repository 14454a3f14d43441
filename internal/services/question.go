package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"gorm.io/gorm"

	"github.com/elmedianur/deutsche/internal/models"
)

var (
	ErrQuestionNotFound    = errors.New("question not found")
	ErrNotEnoughQuestions  = errors.New("not enough questions")
	ErrInvalidQuestionData = errors.New("question needs text, 2 to 10 options and exactly one correct option")
)

// Question is the read-only view of a question the engine consumes.
type Question struct {
	Ref           string   `json:"ref"`
	Topic         string   `json:"topic,omitempty"`
	Prompt        string   `json:"prompt"`
	Choices       []string `json:"choices"`
	CorrectChoice int      `json:"-"`
}

type ContentStore interface {
	GetQuestion(ctx context.Context, ref string) (Question, error)
	// PickQuestions returns n distinct question refs in play order.
	PickQuestions(ctx context.Context, n int) ([]string, error)
}

type QuestionService struct {
	db *gorm.DB
}

func NewQuestionService(db *gorm.DB) *QuestionService {
	return &QuestionService{db: db}
}

type OptionInput struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type QuestionInput struct {
	Topic    string        `json:"topic"`
	Text     string        `json:"text"`
	OrderNum int           `json:"order_num"`
	Options  []OptionInput `json:"options"`
}

func validateQuestion(input QuestionInput) error {
	if input.Text == "" || len(input.Options) < 2 || len(input.Options) > 10 {
		return ErrInvalidQuestionData
	}
	correct := 0
	for _, o := range input.Options {
		if o.Text == "" {
			return ErrInvalidQuestionData
		}
		if o.IsCorrect {
			correct++
		}
	}
	if correct != 1 {
		return ErrInvalidQuestionData
	}
	return nil
}

func (s *QuestionService) CreateQuestion(ctx context.Context, input QuestionInput) (*models.Question, error) {
	if err := validateQuestion(input); err != nil {
		return nil, err
	}

	var question *models.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		question, err = createQuestion(tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.db.WithContext(ctx).Preload("Options", orderedOptions).First(question, question.ID)
	return question, nil
}

// ImportQuestions validates every input before writing any of them, then
// stores all of them in one transaction.
func (s *QuestionService) ImportQuestions(ctx context.Context, inputs []QuestionInput) (int, error) {
	for i, input := range inputs {
		if err := validateQuestion(input); err != nil {
			return 0, fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, input := range inputs {
			if _, err := createQuestion(tx, input); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(inputs), nil
}

func createQuestion(tx *gorm.DB, input QuestionInput) (*models.Question, error) {
	question := models.Question{
		Topic:    input.Topic,
		Text:     input.Text,
		OrderNum: input.OrderNum,
	}
	if err := tx.Create(&question).Error; err != nil {
		return nil, err
	}
	for i, o := range input.Options {
		opt := models.Option{
			QuestionID: question.ID,
			Text:       o.Text,
			IsCorrect:  o.IsCorrect,
			OrderNum:   i,
		}
		if err := tx.Create(&opt).Error; err != nil {
			return nil, err
		}
	}
	return &question, nil
}

func (s *QuestionService) ListQuestions(ctx context.Context, topic string) ([]models.Question, error) {
	var questions []models.Question
	q := s.db.WithContext(ctx).Preload("Options", orderedOptions).Order("order_num ASC, id ASC")
	if topic != "" {
		q = q.Where("topic = ?", topic)
	}
	if err := q.Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (s *QuestionService) DeleteQuestion(ctx context.Context, questionID uint) error {
	var question models.Question
	if err := s.db.WithContext(ctx).First(&question, questionID).Error; err != nil {
		return ErrQuestionNotFound
	}
	return s.db.WithContext(ctx).Select("Options").Delete(&question).Error
}

func (s *QuestionService) GetQuestion(ctx context.Context, ref string) (Question, error) {
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return Question{}, fmt.Errorf("%w: bad ref %q", ErrQuestionNotFound, ref)
	}

	var question models.Question
	if err := s.db.WithContext(ctx).Preload("Options", orderedOptions).First(&question, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Question{}, ErrQuestionNotFound
		}
		return Question{}, err
	}

	out := Question{
		Ref:           ref,
		Topic:         question.Topic,
		Prompt:        question.Text,
		CorrectChoice: -1,
	}
	for i, o := range question.Options {
		out.Choices = append(out.Choices, o.Text)
		if o.IsCorrect {
			out.CorrectChoice = i
		}
	}
	if out.CorrectChoice < 0 {
		return Question{}, fmt.Errorf("%w: question %s has no correct option", ErrInvalidQuestionData, ref)
	}
	return out, nil
}

func (s *QuestionService) PickQuestions(ctx context.Context, n int) ([]string, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Question{}).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) < n {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughQuestions, len(ids), n)
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	refs := make([]string, n)
	for i := range refs {
		refs[i] = strconv.FormatUint(uint64(ids[i]), 10)
	}
	return refs, nil
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("order_num ASC, id ASC")
}
