package service

import (
	"sync"

	"github.com/google/uuid"
	"recording-worker/pkg/apperror"
)

// Registry is the single source of truth for what is currently recording.
// At most one live session may exist per call at any instant.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*liveSession
	byCall map[string]*liveSession
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uuid.UUID]*liveSession),
		byCall: make(map[string]*liveSession),
	}
}

// Add registers a session, rejecting a duplicate active call. A closed
// registry accepts nothing: the shutdown drain must never race a start
// that slipped past the orchestrator's own check.
func (r *Registry) Add(sess *liveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return apperror.Unavailable("session registry is closed")
	}

	callID := sess.entity.CallID
	if _, exists := r.byCall[callID]; exists {
		return apperror.Concurrency(callID)
	}
	r.byID[sess.entity.ID] = sess
	r.byCall[callID] = sess
	return nil
}

func (r *Registry) Get(id uuid.UUID) (*liveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byID[id]
	return sess, ok
}

// Remove deregisters a session. Callers must have persisted the terminal
// record first; nothing here checks that, the state machine does.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byCall, sess.entity.CallID)
}

func (r *Registry) Active() []*liveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*liveSession, 0, len(r.byID))
	for _, sess := range r.byID {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Close stops the registry accepting new sessions. Existing entries are
// untouched; the caller drains them.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
