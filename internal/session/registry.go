package session

import (
	"sort"
	"sync"

	"arbor/internal/domain"
)

// Registry maps session id to session and backs the multi-conversation
// UI. Unlike the per-session mutex, this lock only guards the map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create inserts a new session and returns it.
func (r *Registry) Create(title string) *Session {
	s := New(title)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Add inserts an existing session, e.g. one rebuilt from an archived
// snapshot.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, &domain.NotFoundError{Message: "session " + id + " not found"}
	}
	return s, nil
}

// Delete removes a session. Missing ids are a no-op; delete is an
// idempotent UI action.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// List returns metadata for all sessions, newest first.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	metas := make([]Meta, 0, len(r.sessions))
	for _, s := range r.sessions {
		metas = append(metas, s.Meta())
	}
	r.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].ID < metas[j].ID
	})
	return metas
}
