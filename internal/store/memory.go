package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/metrics"
)

// MemoryStore keeps encoded sessions in process memory. Values are stored
// encoded so no caller ever shares a map or slice with another.
type MemoryStore struct {
	metrics *metrics.ArenaCollector

	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemoryStore(m *metrics.ArenaCollector) *MemoryStore {
	return &MemoryStore{metrics: m, sessions: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	raw, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(raw)
}

func (m *MemoryStore) Create(_ context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	s.Version = 1
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.sessions[s.ID] = raw
	return nil
}

func (m *MemoryStore) Update(_ context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	cur, err := decode(raw)
	if err != nil {
		return err
	}
	if cur.Version != s.Version {
		m.metrics.StaleWrite()
		return ErrStaleVersion
	}

	next := s.Clone()
	next.Version++
	raw, err = json.Marshal(next)
	if err != nil {
		return err
	}
	m.sessions[s.ID] = raw
	s.Version = next.Version
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*game.Session, 0, len(m.sessions))
	for _, raw := range m.sessions {
		s, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func decode(raw []byte) (*game.Session, error) {
	var s game.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
