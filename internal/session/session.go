// Package session wraps one conversation tree with the state the
// engine deliberately leaves to its caller: the active pointer and the
// single-logical-writer discipline. HTTP handlers arrive on arbitrary
// goroutines, so each session serializes access to its store behind a
// mutex; the store itself stays unsynchronized.
package session

import (
	"sync"
	"time"

	"arbor/internal/snapshot"
	"arbor/internal/tree"

	"github.com/google/uuid"
)

// Meta is the session metadata served on list/get endpoints.
type Meta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	NodeCount int       `json:"nodeCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session owns one conversation tree, its active pointer, and the
// serialization of all access to both.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu             sync.Mutex
	title          string
	updatedAt      time.Time
	store          *tree.Store
	activeTargetID *string
}

// New creates a session with an empty tree.
func New(title string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		title:     title,
		updatedAt: now,
		store:     tree.NewStore(),
	}
}

// Mutate runs fn against the store under the session lock and bumps
// the updated timestamp. All writes go through here (or MutateErr).
func (s *Session) Mutate(fn func(store *tree.Store)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.store)
	s.updatedAt = time.Now().UTC()
}

// MutateErr is Mutate for operations that can fail. The timestamp is
// bumped regardless since partial mutations do not exist at the store
// level but the callback may have applied several operations.
func (s *Session) MutateErr(fn func(store *tree.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn(s.store)
	s.updatedAt = time.Now().UTC()
	return err
}

// View runs fn against the store under the session lock without
// touching the updated timestamp.
func (s *Session) View(fn func(store *tree.Store)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.store)
}

// ActiveTargetID returns a copy of the active pointer, nil when unset.
func (s *Session) ActiveTargetID() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTargetID == nil {
		return nil
	}
	id := *s.activeTargetID
	return &id
}

// SetActiveTargetID moves the active pointer. A nil id clears it; an
// id that does not resolve reports false and leaves the pointer alone.
func (s *Session) SetActiveTargetID(id *string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == nil {
		s.activeTargetID = nil
		return true
	}
	if _, ok := s.store.Get(*id); !ok {
		return false
	}
	target := *id
	s.activeTargetID = &target
	return true
}

// clearActiveIfMissing drops the active pointer when its target no
// longer exists. Called after deletions so the fallback rule takes
// over instead of the path compiler re-resolving a dead id each read.
func (s *Session) clearActiveIfMissing() {
	if s.activeTargetID == nil {
		return
	}
	if _, ok := s.store.Get(*s.activeTargetID); !ok {
		s.activeTargetID = nil
	}
}

// MutateAndReconcile is Mutate plus active-pointer cleanup for
// operations that can delete the pointed-at node.
func (s *Session) MutateAndReconcile(fn func(store *tree.Store)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.store)
	s.clearActiveIfMissing()
	s.updatedAt = time.Now().UTC()
}

// ActivePath compiles the path to the effective tip.
func (s *Session) ActivePath() []tree.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ActivePath(s.activeTargetID)
}

// Export captures a snapshot of the tree and active pointer.
func (s *Session) Export() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot.Export(s.store, s.activeTargetID)
}

// Import replaces the session's tree with the snapshot's contents.
// The previous tree is discarded only if the import succeeds.
func (s *Session) Import(snap snapshot.Snapshot) error {
	store, active, err := snapshot.Import(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	s.activeTargetID = active
	s.updatedAt = time.Now().UTC()
	return nil
}

// Title returns the session title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetTitle renames the session.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.updatedAt = time.Now().UTC()
}

// Meta returns the session metadata.
func (s *Session) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Meta{
		ID:        s.ID,
		Title:     s.title,
		NodeCount: s.store.Len(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
}
