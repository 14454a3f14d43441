package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/services"
)

type QuestionHandler struct {
	questions *services.QuestionService
}

func NewQuestionHandler(questions *services.QuestionService) *QuestionHandler {
	return &QuestionHandler{questions: questions}
}

type CreateQuestionRequest struct {
	Topic    string                 `json:"topic"`
	Text     string                 `json:"text" binding:"required"`
	OrderNum int                    `json:"order_num"`
	Options  []services.OptionInput `json:"options" binding:"required"`
}

func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	var req CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	question, err := h.questions.CreateQuestion(c.Request.Context(), services.QuestionInput{
		Topic:    req.Topic,
		Text:     req.Text,
		OrderNum: req.OrderNum,
		Options:  req.Options,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, question)
}

// ListQuestions lists the question pool with correct options, optionally
// filtered by ?topic=.
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	questions, err := h.questions.ListQuestions(c.Request.Context(), c.Query("topic"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, questions)
}

func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	questionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid question id")
		return
	}

	if err := h.questions.DeleteQuestion(c.Request.Context(), uint(questionID)); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "question deleted"})
}
