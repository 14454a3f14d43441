package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/elmedianur/deutsche/internal/game"
)

type EventType string

const (
	EventTypeSessionStarted   EventType = "arena.session.started"
	EventTypeSessionSettled   EventType = "arena.session.settled"
	EventTypeSessionCancelled EventType = "arena.session.cancelled"
	EventTypeUserBlocked      EventType = "arena.user.blocked"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Version   string    `json:"version"`
}

type SessionStartedEvent struct {
	BaseEvent
	SessionID    string   `json:"session_id"`
	Mode         string   `json:"mode"`
	Stake        int64    `json:"stake"`
	Participants []string `json:"participants"`
}

// SessionClosedEvent carries the settlement of a session, whether it was
// played out or cancelled.
type SessionClosedEvent struct {
	BaseEvent
	game.Settlement
}

type UserBlockedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	Actor  string `json:"actor"`
}

func newBase(t EventType, now time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: now.Unix(),
		Version:   "1.0",
	}
}

func NewSessionStartedEvent(s *game.Session, now time.Time) *SessionStartedEvent {
	ids := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.UserID
	}
	return &SessionStartedEvent{
		BaseEvent:    newBase(EventTypeSessionStarted, now),
		SessionID:    s.ID,
		Mode:         string(s.Mode),
		Stake:        s.Stake,
		Participants: ids,
	}
}

func NewSessionClosedEvent(st game.Settlement) *SessionClosedEvent {
	t := EventTypeSessionSettled
	if st.Reason != game.ReasonCompleted {
		t = EventTypeSessionCancelled
	}
	return &SessionClosedEvent{BaseEvent: newBase(t, st.At), Settlement: st}
}

func NewUserBlockedEvent(userID, actor string, now time.Time) *UserBlockedEvent {
	return &UserBlockedEvent{BaseEvent: newBase(EventTypeUserBlocked, now), UserID: userID, Actor: actor}
}
