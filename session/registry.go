package session

import (
	"net"
	"sync"
	"time"
)

// Registry holds the sessions live at a reflector or sender, keyed by
// (local, remote) address pair (spec §3). Reader-writer locked so the
// rx callback (which creates sessions lazily) and a control-thread
// reader never race (spec §5).
type Registry struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[Key]*Session{}}
}

// Get returns the session for (local, remote), if one exists.
func (r *Registry) Get(local, remote *net.UDPAddr) (*Session, bool) {
	k := Key{Local: local.String(), Remote: remote.String()}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[k]
	return s, ok
}

// GetOrCreate returns the existing session for (local, remote),
// creating one if absent (spec §3: "lazily at reflector receipt of
// the first sender packet").
func (r *Registry) GetOrCreate(local, remote *net.UDPAddr) *Session {
	k := Key{Local: local.String(), Remote: remote.String()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[k]; ok {
		return s
	}
	s := New(local, remote)
	r.sessions[k] = s
	return s
}

// Put registers a pre-built session (used by the sender, which builds
// one session per configured target at startup).
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	r.sessions[s.KeyOf()] = s
	r.mu.Unlock()
}

// All returns a snapshot of every currently registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// EvictIdle removes every session whose newest record is older than
// maxAge. A session that has never received anything (t2 never set)
// is evicted immediately — documented, not accidental (spec §9).
func (r *Registry) EvictIdle(now time.Time, maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.sessions {
		last := s.LastActivity()
		if last.IsZero() || now.Sub(last.Time()) > maxAge {
			delete(r.sessions, k)
		}
	}
}
