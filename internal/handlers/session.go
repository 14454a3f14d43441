package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/middleware"
	"github.com/elmedianur/deutsche/internal/services"
)

type SessionHandler struct {
	sessions   *services.SessionService
	matchmaker *services.MatchmakerService
	caps       *services.Capabilities
	clock      clock.Clock
}

func NewSessionHandler(sessions *services.SessionService, matchmaker *services.MatchmakerService, caps *services.Capabilities, clk clock.Clock) *SessionHandler {
	return &SessionHandler{sessions: sessions, matchmaker: matchmaker, caps: caps, clock: clk}
}

type JoinRequest struct {
	Mode  game.Mode `json:"mode" binding:"required"`
	Stake int64     `json:"stake" binding:"required"`
}

type AnswerRequest struct {
	// Round defaults to the open round.
	Round  *int `json:"round"`
	Choice *int `json:"choice" binding:"required"`
}

// Join pays the stake and queues the caller, or starts a session when the
// lobby fills.
func (h *SessionHandler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.matchmaker.Join(c.Request.Context(), middleware.UserID(c), req.Mode, req.Stake)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusAccepted
	if res.SessionID != "" {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// Leave takes the caller out of their lobby and refunds the stake.
func (h *SessionHandler) Leave(c *gin.Context) {
	if err := h.matchmaker.Leave(c.Request.Context(), middleware.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "left lobby, stake refunded"})
}

func (h *SessionHandler) Lobby(c *gin.Context) {
	view, ok := h.matchmaker.LobbyOf(middleware.UserID(c))
	if !ok {
		writeError(c, services.ErrNotQueued)
		return
	}
	c.JSON(http.StatusOK, view)
}

// MySessions lists the live sessions of the caller.
func (h *SessionHandler) MySessions(c *gin.Context) {
	sessions, err := h.sessions.SessionsOf(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views(sessions))
}

// GetSession shows a session to its participants and to admins who may see
// every history.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	userID := middleware.UserID(c)
	if _, ok := sess.Participant(userID); !ok && !h.caps.HasCapability(userID, services.CapViewAllHistory) {
		writeError(c, services.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, services.NewSessionView(sess))
}

func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	round := -1
	if req.Round != nil {
		round = *req.Round
	}

	ack, err := h.sessions.SubmitAnswer(c.Request.Context(), c.Param("id"), middleware.UserID(c), round, *req.Choice, h.clock.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (h *SessionHandler) Forfeit(c *gin.Context) {
	if err := h.sessions.Forfeit(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "forfeited"})
}

// Cancel stops a live session and refunds every stake. The session service
// checks the caller's capability.
func (h *SessionHandler) Cancel(c *gin.Context) {
	if err := h.sessions.CancelSession(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "session cancelled"})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views(sessions))
}

func (h *SessionHandler) ListLobbies(c *gin.Context) {
	lobbies := h.matchmaker.Lobbies()
	if lobbies == nil {
		lobbies = []services.LobbyView{}
	}
	c.JSON(http.StatusOK, lobbies)
}

func views(sessions []*game.Session) []services.SessionView {
	out := make([]services.SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, services.NewSessionView(s))
	}
	return out
}
