package telegram

import "sync"

// RoundMessage is the question message a player answers from. It is edited
// in place once the round is graded.
type RoundMessage struct {
	SessionID   string
	Round       int
	TotalRounds int
	MessageID   int64
	Prompt      string
	Choices     []string
}

type stateKey struct {
	chatID    int64
	sessionID string
}

type StateManager struct {
	mu     sync.RWMutex
	rounds map[stateKey]*RoundMessage
}

func NewStateManager() *StateManager {
	return &StateManager{
		rounds: make(map[stateKey]*RoundMessage),
	}
}

func (m *StateManager) Get(chatID int64, sessionID string) (RoundMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rounds[stateKey{chatID, sessionID}]
	if !ok {
		return RoundMessage{}, false
	}
	cp := *s
	cp.Choices = append([]string(nil), s.Choices...)
	return cp, true
}

func (m *StateManager) Set(chatID int64, rm RoundMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[stateKey{chatID, rm.SessionID}] = &rm
}

func (m *StateManager) Clear(chatID int64, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rounds, stateKey{chatID, sessionID})
}
