package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/middleware"
	"github.com/elmedianur/deutsche/internal/services"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// writeError maps service errors to status codes. Anything unrecognised is
// a 500.
func writeError(c *gin.Context, err error) {
	var entitlement *services.EntitlementError
	if errors.As(err, &entitlement) {
		status := http.StatusForbidden
		if entitlement.Reason == services.EntitlementInsufficientFunds {
			status = http.StatusPaymentRequired
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Reason: entitlement.Reason})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, game.ErrUnknownParticipant):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrQuestionNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrNotQueued),
		errors.Is(err, services.ErrUnknownItem):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidStake),
		errors.Is(err, services.ErrInvalidMode),
		errors.Is(err, services.ErrInvalidQuestionData),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrMissingKey),
		errors.Is(err, game.ErrInvalidChoice),
		errors.Is(err, ledger.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrAlreadyQueued),
		errors.Is(err, ledger.ErrLedgerConflict),
		errors.Is(err, game.ErrAlreadyClosed),
		errors.Is(err, game.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, services.ErrNotEnoughQuestions):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// requireCapability aborts with 403 unless the caller holds capability.
func requireCapability(caps *services.Capabilities, capability services.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !caps.HasCapability(middleware.UserID(c), capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: services.ErrForbidden.Error()})
			return
		}
		c.Next()
	}
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
