package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/services"
)

// TelegramUserHandler serves the bot and other trusted backends that speak
// for Telegram users.
type TelegramUserHandler struct {
	tgService *services.TelegramUserService
	results   *services.ResultService
}

func NewTelegramUserHandler(tgService *services.TelegramUserService, results *services.ResultService) *TelegramUserHandler {
	return &TelegramUserHandler{tgService: tgService, results: results}
}

type TelegramUserRequest struct {
	TelegramID int64  `json:"telegram_id" binding:"required"`
	ChatID     int64  `json:"chat_id"`
	Username   string `json:"username"`
	Nickname   string `json:"nickname"`
}

type NicknameRequest struct {
	Nickname string `json:"nickname" binding:"required,min=1,max=100"`
}

func (h *TelegramUserHandler) GetOrCreateUser(c *gin.Context) {
	var req TelegramUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.ChatID == 0 {
		req.ChatID = req.TelegramID
	}
	if req.Nickname == "" && req.Username == "" {
		req.Nickname = "Player"
	}

	user, created, err := h.tgService.GetOrCreate(c.Request.Context(), req.TelegramID, req.ChatID, req.Username, req.Nickname)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":    user,
		"user_id": services.UserID(user.TelegramID),
		"created": created,
	})
}

func (h *TelegramUserHandler) UpdateNickname(c *gin.Context) {
	tgID, ok := telegramID(c)
	if !ok {
		return
	}

	var req NicknameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := h.tgService.UpdateNickname(c.Request.Context(), tgID, req.Nickname)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *TelegramUserHandler) GetHistory(c *gin.Context) {
	tgID, ok := telegramID(c)
	if !ok {
		return
	}

	entries, err := h.results.History(c.Request.Context(), services.UserID(tgID), queryLimit(c, 20, 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func telegramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("telegram_id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid telegram_id")
		return 0, false
	}
	return id, true
}
