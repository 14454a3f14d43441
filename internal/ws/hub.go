// Package ws pushes engine messages to players over websockets.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/elmedianur/deutsche/internal/transport"
)

const writeWait = 10 * time.Second

type connKey struct {
	sessionID string
	userID    string
}

// Client is one websocket connection. gorilla connections allow a single
// concurrent writer, so every write takes mu.
type Client struct {
	key  connKey
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteJSON sends v outside of Deliver, for replies to the client's own
// requests.
func (c *Client) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Hub tracks connections by session and user. A connection registered with
// an empty session id follows every session and lobby of its user.
type Hub struct {
	mu    sync.RWMutex
	conns map[connKey]map[*Client]struct{}
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: make(map[connKey]map[*Client]struct{}),
		log:   log.With().Str("component", "ws").Logger(),
	}
}

func (h *Hub) AddConnection(sessionID, userID string, conn *websocket.Conn) *Client {
	c := &Client{key: connKey{sessionID, userID}, conn: conn}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.key] == nil {
		h.conns[c.key] = make(map[*Client]struct{})
	}
	h.conns[c.key][c] = struct{}{}
	h.log.Debug().Str("session_id", sessionID).Str("user_id", userID).Int("total", len(h.conns[c.key])).Msg("client connected")
	return c
}

func (h *Hub) RemoveConnection(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.conns[c.key]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	c.conn.Close()
	if len(conns) == 0 {
		delete(h.conns, c.key)
	}
	h.log.Debug().Str("session_id", c.key.sessionID).Str("user_id", c.key.userID).Msg("client disconnected")
}

// Connected counts the connections that would receive a message for the
// user in the session.
func (h *Hub) Connected(sessionID, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.conns[connKey{sessionID, userID}])
	if sessionID != "" {
		n += len(h.conns[connKey{"", userID}])
	}
	return n
}

func (h *Hub) targets(sessionID, userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	for c := range h.conns[connKey{sessionID, userID}] {
		out = append(out, c)
	}
	if sessionID != "" {
		for c := range h.conns[connKey{"", userID}] {
			out = append(out, c)
		}
	}
	return out
}

// Deliver writes msg to every connection of the participant. A participant
// without connections is not an error: they may be playing through another
// transport. The delivery counts as made when at least one write succeeded.
func (h *Hub) Deliver(_ context.Context, sessionID, participantID string, msg transport.Message) error {
	clients := h.targets(sessionID, participantID)
	if len(clients) == 0 {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var result *multierror.Error
	delivered := 0
	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.log.Debug().Err(err).Str("session_id", sessionID).Str("user_id", participantID).Msg("write failed, dropping connection")
			h.RemoveConnection(c)
			result = multierror.Append(result, err)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		return nil
	}
	return result.ErrorOrNil()
}
