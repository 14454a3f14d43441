package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/services"
	"github.com/elmedianur/deutsche/internal/ws"
)

const (
	typeSessionState = "session_state"
	typeAnswerAck    = "answer_ack"
	typeError        = "error"

	maxClientMessage = 4 << 10
)

type WSHandler struct {
	hub      *ws.Hub
	auth     *services.AuthService
	sessions *services.SessionService
	clock    clock.Clock
	log      zerolog.Logger
}

func NewWSHandler(hub *ws.Hub, auth *services.AuthService, sessions *services.SessionService, clk clock.Clock, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		auth:     auth,
		sessions: sessions,
		clock:    clk,
		log:      log.With().Str("component", "ws_handler").Logger(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage is what players send over the socket. SessionID may be left
// out on a connection bound to a session; Round defaults to the open round.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Round     *int   `json:"round"`
	Choice    int    `json:"choice"`
}

type AnswerAckMessage struct {
	SessionID string `json:"session_id"`
	services.AnswerAck
}

type wsReply struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (h *WSHandler) token(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// HandleWebSocket serves /ws, which follows every session and lobby of the
// caller, and /ws/session/:id, which follows a single session and starts
// with its current state.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	claims, err := h.auth.ValidateToken(h.token(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired token"})
		return
	}
	userID := claims.UserID
	sessionID := c.Param("id")

	var snapshot *services.SessionView
	if sessionID != "" {
		sess, err := h.sessions.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			writeError(c, err)
			return
		}
		if _, ok := sess.Participant(userID); !ok {
			writeError(c, services.ErrForbidden)
			return
		}
		view := services.NewSessionView(sess)
		snapshot = &view
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxClientMessage)

	client := h.hub.AddConnection(sessionID, userID, conn)
	defer h.hub.RemoveConnection(client)

	if snapshot != nil {
		if err := client.WriteJSON(wsReply{Type: typeSessionState, Data: snapshot}); err != nil {
			return
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.log.Debug().Err(err).Str("user_id", userID).Msg("websocket read ended")
			}
			return
		}
		at := h.clock.Now()
		if err := client.WriteJSON(h.handleMessage(c.Request.Context(), userID, sessionID, msg, at)); err != nil {
			return
		}
	}
}

func (h *WSHandler) handleMessage(ctx context.Context, userID, boundSession string, msg ClientMessage, at time.Time) wsReply {
	if msg.Type != "answer" {
		return wsReply{Type: typeError, Data: ErrorResponse{Error: "unknown message type"}}
	}
	sessionID := boundSession
	if sessionID == "" {
		sessionID = msg.SessionID
	}
	if sessionID == "" {
		return wsReply{Type: typeError, Data: ErrorResponse{Error: "session_id required"}}
	}
	round := -1
	if msg.Round != nil {
		round = *msg.Round
	}

	ack, err := h.sessions.SubmitAnswer(ctx, sessionID, userID, round, msg.Choice, at)
	if err != nil {
		return wsReply{Type: typeError, Data: ErrorResponse{Error: err.Error()}}
	}
	return wsReply{Type: typeAnswerAck, Data: AnswerAckMessage{SessionID: sessionID, AnswerAck: ack}}
}
