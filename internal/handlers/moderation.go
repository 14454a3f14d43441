package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/middleware"
	"github.com/elmedianur/deutsche/internal/services"
)

type ModerationHandler struct {
	moderation *services.ModerationService
}

func NewModerationHandler(moderation *services.ModerationService) *ModerationHandler {
	return &ModerationHandler{moderation: moderation}
}

type BlockStatus struct {
	UserID  string `json:"user_id"`
	Blocked bool   `json:"blocked"`
}

// Block bars the user, refunds their lobby stake and cancels their live
// sessions.
func (h *ModerationHandler) Block(c *gin.Context) {
	userID := c.Param("user_id")
	if err := h.moderation.BlockUser(c.Request.Context(), middleware.UserID(c), userID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BlockStatus{UserID: userID, Blocked: true})
}

func (h *ModerationHandler) Unblock(c *gin.Context) {
	userID := c.Param("user_id")
	if err := h.moderation.UnblockUser(c.Request.Context(), middleware.UserID(c), userID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BlockStatus{UserID: userID, Blocked: false})
}

func (h *ModerationHandler) Status(c *gin.Context) {
	userID := c.Param("user_id")
	blocked, err := h.moderation.IsBlocked(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BlockStatus{UserID: userID, Blocked: blocked})
}
