package app

import (
	"sync"

	"github.com/dkeye/Duet/internal/domain"
	"github.com/dkeye/Duet/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Member is a live connection the registry can shut down.
type Member interface {
	ID() domain.ConnID
	Session() domain.SessionID
	Close()
}

// Registry tracks the connections open on this process.
type Registry struct {
	mu      sync.RWMutex
	members map[domain.ConnID]Member
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[domain.ConnID]Member)}
}

func (r *Registry) Bind(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID()] = m
	telemetry.ConnectionsActive.Set(float64(len(r.members)))
	log.Info().Str("module", "app.registry").Str("conn", string(m.ID())).Str("session", string(m.Session())).Msg("bound connection")
}

func (r *Registry) Unbind(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return
	}
	delete(r.members, id)
	telemetry.ConnectionsActive.Set(float64(len(r.members)))
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind connection")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// CloseAll closes every member; Close is expected to unbind itself.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	snapshot := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		snapshot = append(snapshot, m)
	}
	r.mu.RUnlock()

	for _, m := range snapshot {
		m.Close()
	}
	log.Info().Str("module", "app.registry").Int("closed", len(snapshot)).Msg("closed all connections")
}
