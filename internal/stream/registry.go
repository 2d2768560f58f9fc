package stream

import (
	"log"
	"sync"
)

// Registry tracks active sessions with an explicit register/unregister
// lifecycle owned by the channel handler, replacing ambient global maps.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session on connect.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	log.Printf("[stream] session registered id=%s total=%d", s.ID, r.Len())
}

// Unregister removes and closes a session on disconnect. Unknown IDs are
// ignored so the defer in the handler is safe on failed upgrades.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
		log.Printf("[stream] session unregistered id=%s total=%d", id, r.Len())
	}
}

// Get returns a registered session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
