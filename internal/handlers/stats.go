package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/middleware"
	"github.com/elmedianur/deutsche/internal/services"
)

type StatsHandler struct {
	results *services.ResultService
}

func NewStatsHandler(results *services.ResultService) *StatsHandler {
	return &StatsHandler{results: results}
}

// DuelStats returns the rating of the user in the path, or of the caller.
func (h *StatsHandler) DuelStats(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		userID = middleware.UserID(c)
	}
	stats, err := h.results.DuelStats(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *StatsHandler) TopPlayers(c *gin.Context) {
	top, err := h.results.TopPlayers(c.Request.Context(), queryLimit(c, 10, 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, top)
}

// History lists closed sessions of the caller, newest first. Admins reach
// other users through the user_id path parameter.
func (h *StatsHandler) History(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		userID = middleware.UserID(c)
	}
	entries, err := h.results.History(c.Request.Context(), userID, queryLimit(c, 20, 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// SessionResult returns the stored record of a closed session with every
// round and participant.
func (h *StatsHandler) SessionResult(c *gin.Context) {
	record, err := h.results.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
