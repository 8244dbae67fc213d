package server

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry tracks live sessions. Broadcast iteration works on a snapshot so
// sessions may connect and disconnect mid-broadcast; delivery to each
// session is best-effort.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	log zerolog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      logger,
	}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.log.Debug().Str("session_id", s.ID).Int("sessions", n).Msg("session registered")
}

// Remove releases a session.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.ID)
	n := len(r.sessions)
	r.mu.Unlock()
	r.log.Debug().Str("session_id", s.ID).Int("sessions", n).Msg("session released")
}

// Snapshot returns the current sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CountFor reports how many sessions are bound to an identity. Drives the
// multi-device rule: the disconnect cascade runs only when the last session
// of an identity goes away.
func (r *Registry) CountFor(identityID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.sessions {
		if s.Identity() == identityID {
			n++
		}
	}
	return n
}

// BroadcastAll delivers a line to every session except the optional
// excluder.
func (r *Registry) BroadcastAll(line string, except *Session) {
	for _, s := range r.Snapshot() {
		if s == except {
			continue
		}
		s.Send(line)
	}
}

// BroadcastMembers delivers a line to every session whose bound identity is
// in members, except the optional excluder.
func (r *Registry) BroadcastMembers(members []string, line string, except *Session) {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	for _, s := range r.Snapshot() {
		if s == except {
			continue
		}
		id := s.Identity()
		if id == "" {
			continue
		}
		if _, ok := set[id]; ok {
			s.Send(line)
		}
	}
}
