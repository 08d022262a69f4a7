package ws

import (
	"sync"

	"livequiz-service/internal/domain"
)

// Binding ties a transport connection to its place in a session. It carries
// no ownership: removing a binding never touches session state.
type Binding struct {
	SessionID     string
	ParticipantID string
	Role          domain.Role
}

// ConnectionRegistry is the bidirectional index between connection ids and
// session membership. The per-session set keeps broadcast targeting at
// O(session size) instead of O(all connections).
//
// The registry is process-local; that is sound as long as a connection stays
// pinned to one process for its lifetime.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	byConn    map[string]Binding
	bySession map[string]map[string]struct{}
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byConn:    make(map[string]Binding),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Bind registers (or re-points) a connection's session membership.
func (r *ConnectionRegistry) Bind(connID string, binding Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byConn[connID]; ok {
		r.dropLocked(connID, prev.SessionID)
	}
	r.byConn[connID] = binding
	conns, ok := r.bySession[binding.SessionID]
	if !ok {
		conns = make(map[string]struct{})
		r.bySession[binding.SessionID] = conns
	}
	conns[connID] = struct{}{}
}

// Lookup resolves a connection id; ok=false simply means "no session".
func (r *ConnectionRegistry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	binding, ok := r.byConn[connID]
	return binding, ok
}

// Remove unbinds a connection and returns what it was bound to.
func (r *ConnectionRegistry) Remove(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	binding, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	delete(r.byConn, connID)
	r.dropLocked(connID, binding.SessionID)
	return binding, true
}

// Connections lists the connection ids currently bound to a session.
func (r *ConnectionRegistry) Connections(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.bySession[sessionID]
	out := make([]string, 0, len(conns))
	for connID := range conns {
		out = append(out, connID)
	}
	return out
}

func (r *ConnectionRegistry) dropLocked(connID, sessionID string) {
	if conns, ok := r.bySession[sessionID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}
