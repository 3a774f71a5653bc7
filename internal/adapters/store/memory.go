// Package store keeps the anonymous session records issued by the init endpoint.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// Memory is a process local core.SessionStore. Records never expire.
type Memory struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.Session
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[domain.SessionID]domain.Session)}
}

func (m *Memory) Save(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) Get(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return &s, nil
}

func (m *Memory) Touch(_ context.Context, id domain.SessionID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	s.Touch(now)
	m.sessions[id] = s
	return nil
}

func (m *Memory) Close() error { return nil }
