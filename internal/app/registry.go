package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/rs/zerolog/log"
)

type presenceEntry struct {
	Participant domain.Participant
	Conn        core.SignalConnection
	Cancel      context.CancelFunc
}

// Registry is the relay's presence table: who is online and over which
// connection their events go.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.ParticipantID]*presenceEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.ParticipantID]*presenceEntry)}
}

// Bind puts p online on conn. A participant reconnecting from a new
// connection replaces the old one, which is cancelled.
func (r *Registry) Bind(p domain.Participant, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	old, had := r.entries[p.ID]
	r.entries[p.ID] = &presenceEntry{Participant: p, Conn: conn, Cancel: cancel}
	r.mu.Unlock()

	if had && old.Conn != conn && old.Cancel != nil {
		old.Cancel()
		log.Info().Str("module", "app.registry").Str("user_id", string(p.ID)).Msg("replaced previous connection")
	}
	log.Info().Str("module", "app.registry").Str("user_id", string(p.ID)).Str("name", p.Name).Msg("online")
}

// Unbind takes id offline, but only while conn is still the one bound to it.
func (r *Registry) Unbind(id domain.ParticipantID, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.entries, id)
	log.Info().Str("module", "app.registry").Str("user_id", string(id)).Msg("offline")
	return true
}

func (r *Registry) Get(id domain.ParticipantID) (domain.Participant, core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return domain.Participant{}, nil, false
	}
	return e.Participant, e.Conn, true
}

// Online lists everyone online ordered by id.
func (r *Registry) Online() []domain.Participant {
	r.mu.RLock()
	out := make([]domain.Participant, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Participant)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Conns returns every bound connection.
func (r *Registry) Conns() []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SignalConnection, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Conn)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Cancel drops the connection of id.
func (r *Registry) Cancel(id domain.ParticipantID) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("user_id", string(id)).Msg("canceled connection")
	return true
}
