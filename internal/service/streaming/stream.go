package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stream tracks one in-flight assistant node: its cancellation token,
// the formatted SSE events emitted so far (for reconnection catch-up),
// and the currently connected subscribers.
type Stream struct {
	NodeID string

	cancel context.CancelFunc

	mu          sync.Mutex
	history     []string
	subscribers map[string]chan string
	closed      bool
}

func newStream(nodeID string, cancel context.CancelFunc) *Stream {
	return &Stream{
		NodeID:      nodeID,
		cancel:      cancel,
		subscribers: make(map[string]chan string),
	}
}

// Publish records a formatted SSE event and fans it out. Slow
// subscribers are skipped rather than blocking the producer; they
// recover the event on reconnect via catch-up.
func (s *Stream) Publish(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.history = append(s.history, event)
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a consumer and returns its channel, the replay
// of everything published so far, and an unsubscribe func. On a closed
// stream the channel arrives already closed, so consumers drain the
// replay and exit their read loop naturally.
func (s *Stream) Subscribe() (<-chan string, []string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay := make([]string, len(s.history))
	copy(replay, s.history)

	ch := make(chan string, 64)
	if s.closed {
		close(ch)
		return ch, replay, func() {}
	}

	id := uuid.New().String()
	s.subscribers[id] = ch
	return ch, replay, func() { s.unsubscribe(id) }
}

func (s *Stream) unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// Cancel aborts the producing goroutine's context.
func (s *Stream) Cancel() {
	s.cancel()
}

// Close marks the stream finished and releases all subscribers.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

// Registry maps node id to in-flight stream. Finished streams linger
// for a retention period so late subscribers still get the catch-up
// replay.
type Registry struct {
	mu        sync.RWMutex
	streams   map[string]*Stream
	retention time.Duration
}

// NewRegistry creates a stream registry with the given retention for
// finished streams.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		streams:   make(map[string]*Stream),
		retention: retention,
	}
}

// Register creates and tracks a stream for nodeID.
func (r *Registry) Register(nodeID string, cancel context.CancelFunc) *Stream {
	s := newStream(nodeID, cancel)
	r.mu.Lock()
	r.streams[nodeID] = s
	r.mu.Unlock()
	return s
}

// Get returns the stream for nodeID, if any.
func (r *Registry) Get(nodeID string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[nodeID]
	return s, ok
}

// Release closes the stream and schedules its removal after the
// retention period.
func (r *Registry) Release(nodeID string) {
	r.mu.RLock()
	s, ok := r.streams[nodeID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.Close()
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.streams, nodeID)
		r.mu.Unlock()
	})
}
