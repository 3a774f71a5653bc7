package relay

import (
	"context"
	"sync"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// Memory is a single process relay.
type Memory struct {
	mu      sync.RWMutex
	inboxes map[domain.ConnID]core.Inbox
	groups  map[domain.GroupName]map[domain.ConnID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		inboxes: make(map[domain.ConnID]core.Inbox),
		groups:  make(map[domain.GroupName]map[domain.ConnID]struct{}),
	}
}

func (m *Memory) Attach(_ context.Context, conn domain.ConnID, inbox core.Inbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inboxes[conn] = inbox
	return nil
}

// Detach also drops conn from every group it still belongs to.
func (m *Memory) Detach(_ context.Context, conn domain.ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inboxes, conn)
	for g, members := range m.groups {
		delete(members, conn)
		if len(members) == 0 {
			delete(m.groups, g)
		}
	}
	return nil
}

func (m *Memory) Join(_ context.Context, group domain.GroupName, conn domain.ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.groups[group]
	if !ok {
		members = make(map[domain.ConnID]struct{}, 2)
		m.groups[group] = members
	}
	members[conn] = struct{}{}
	return nil
}

func (m *Memory) Leave(_ context.Context, group domain.GroupName, conn domain.ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.groups[group]
	if !ok {
		return nil
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(m.groups, group)
	}
	return nil
}

// Broadcast delivers outside the lock; inboxes may call back into the relay.
func (m *Memory) Broadcast(_ context.Context, group domain.GroupName, ev core.Event) error {
	m.mu.RLock()
	targets := make([]core.Inbox, 0, len(m.groups[group]))
	for conn := range m.groups[group] {
		if inbox, ok := m.inboxes[conn]; ok {
			targets = append(targets, inbox)
		}
	}
	m.mu.RUnlock()

	for _, inbox := range targets {
		inbox(ev)
	}
	return nil
}

func (m *Memory) SendTo(_ context.Context, conn domain.ConnID, ev core.Event) error {
	m.mu.RLock()
	inbox, ok := m.inboxes[conn]
	m.mu.RUnlock()
	if !ok {
		return core.ErrNotAttached
	}
	inbox(ev)
	return nil
}

// members lists the current members of group.
func (m *Memory) members(group domain.GroupName) []domain.ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ConnID, 0, len(m.groups[group]))
	for conn := range m.groups[group] {
		out = append(out, conn)
	}
	return out
}

func (m *Memory) Close() error { return nil }
