package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
	caps        *services.Capabilities
}

func NewAuthHandler(authService *services.AuthService, caps *services.Capabilities) *AuthHandler {
	return &AuthHandler{authService: authService, caps: caps}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=100"`
	Password string `json:"password" binding:"required,min=6"`
	UserID   string `json:"user_id" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

// Register creates dashboard credentials for an arena user. Bot only: the
// bot vouches for the user id.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	token, err := h.authService.Register(c.Request.Context(), req.Username, req.Password, req.UserID)
	if errors.Is(err, services.ErrUsernameTaken) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Token: token})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// IssueToken hands the bot a player token, used by web app clients opened
// from a chat.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	token, err := h.authService.GenerateToken(req.UserID, h.caps.IsAdmin(req.UserID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}
