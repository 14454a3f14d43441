// Package transport describes how the engine pushes messages to players.
// Delivery is fire-and-forget from the engine's point of view: a failed
// delivery never changes session state, it only delays the close of a
// settled session until the delivery timeout.
package transport

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/elmedianur/deutsche/internal/game"
)

const (
	TypeRoundOpened      = "round_opened"
	TypeRoundGraded      = "round_graded"
	TypeSettlement       = "settlement"
	TypeSessionCancelled = "session_cancelled"
	TypeLobbyPending     = "lobby_pending"
	TypeLobbyExpired     = "lobby_expired"
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Transport interface {
	// Deliver sends msg to one participant. sessionID is the lobby id for
	// lobby messages.
	Deliver(ctx context.Context, sessionID, participantID string, msg Message) error
}

type RoundOpened struct {
	SessionID   string    `json:"session_id"`
	Mode        game.Mode `json:"mode"`
	Round       int       `json:"round"`
	TotalRounds int       `json:"total_rounds"`
	Prompt      string    `json:"prompt"`
	Choices     []string  `json:"choices"`
	ClosesAt    time.Time `json:"closes_at"`
}

// RoundGraded reveals the correct choice. Choices holds the choice of
// everyone who answered in time.
type RoundGraded struct {
	SessionID     string           `json:"session_id"`
	Round         int              `json:"round"`
	CorrectChoice int              `json:"correct_choice"`
	Points        map[string]int   `json:"points"`
	Choices       map[string]int   `json:"choices"`
	Standings     []game.RankEntry `json:"standings"`
}

type LobbyStatus struct {
	LobbyID string    `json:"lobby_id"`
	Mode    game.Mode `json:"mode"`
	Stake   int64     `json:"stake"`
	Members int       `json:"members"`
	Reason  string    `json:"reason,omitempty"`
}

// FanOut delivers to every transport and joins their errors.
type FanOut []Transport

func (f FanOut) Deliver(ctx context.Context, sessionID, participantID string, msg Message) error {
	var result *multierror.Error
	for _, t := range f {
		if t == nil {
			continue
		}
		if err := t.Deliver(ctx, sessionID, participantID, msg); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Discard drops every message.
type Discard struct{}

func (Discard) Deliver(context.Context, string, string, Message) error { return nil }
