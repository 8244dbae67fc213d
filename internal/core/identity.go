// Package core holds the server's state machine: identities and presence,
// channels and membership, the per-channel message log, and the livestream
// registry. Every store is safe for concurrent use from session goroutines;
// when a handler needs more than one store, locks are taken in the fixed
// order identity -> channel -> message -> livestream.
package core

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

// Status is a presence state.
type Status string

const (
	StatusOnline    Status = "Online"
	StatusOffline   Status = "Offline"
	StatusInvisible Status = "Invisible"
)

// ParseStatus validates a wire status token.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOnline, StatusOffline, StatusInvisible:
		return Status(s), true
	}
	return "", false
}

// visitorPrefix tags visitor ids drawn from the shared counter, e.g. "v17".
const visitorPrefix = "v"

// IsVisitorID reports whether id names an ephemeral visitor identity.
func IsVisitorID(id string) bool {
	return strings.HasPrefix(id, visitorPrefix)
}

// User is a registered identity. Credential is an opaque secret compared
// verbatim, as required by the persisted format and the existing clients.
type User struct {
	ID         string
	Username   string
	Credential string
	Status     Status
}

// Visitor is an ephemeral identity held only in memory and destroyed on
// disconnect.
type Visitor struct {
	ID     string
	Name   string
	Status Status
}

// IdentityStore owns registered users, visitors, and status transitions.
type IdentityStore struct {
	mu         sync.RWMutex
	byUsername map[string]*User
	byID       map[string]*User
	visitors   map[string]*Visitor
	nextID     int64

	store storage.Store
	log   zerolog.Logger
}

// NewIdentityStore loads the persisted user table.
func NewIdentityStore(st storage.Store, logger zerolog.Logger) (*IdentityStore, error) {
	table, err := st.LoadUsers()
	if err != nil {
		return nil, err
	}

	s := &IdentityStore{
		byUsername: make(map[string]*User, len(table.Users)),
		byID:       make(map[string]*User, len(table.Users)),
		visitors:   make(map[string]*Visitor),
		nextID:     table.NextID,
		store:      st,
		log:        logger,
	}
	for username, rec := range table.Users {
		status, ok := ParseStatus(rec.Status)
		if !ok {
			status = StatusOffline
		}
		u := &User{ID: rec.UserID, Username: username, Credential: rec.Password, Status: status}
		s.byUsername[username] = u
		s.byID[u.ID] = u
	}
	return s, nil
}

// Register creates a new account with an Offline status.
func (s *IdentityStore) Register(username, credential string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[username]; taken {
		return "", ErrUsernameTaken
	}

	u := &User{
		ID:         strconv.FormatInt(s.nextID, 10),
		Username:   username,
		Credential: credential,
		Status:     StatusOffline,
	}
	s.nextID++
	s.byUsername[username] = u
	s.byID[u.ID] = u

	s.persistLocked()
	return u.ID, nil
}

// Login validates a credential and brings the user Online, unless the user
// chose Invisible, which is preserved. It returns the user id and the status
// now in effect.
func (s *IdentityStore) Login(username, credential string) (string, Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byUsername[username]
	if !ok || subtle.ConstantTimeCompare([]byte(u.Credential), []byte(credential)) != 1 {
		return "", "", ErrLoginFailed
	}

	if u.Status != StatusInvisible {
		u.Status = StatusOnline
	}
	s.persistLocked()
	return u.ID, u.Status, nil
}

// JoinAsVisitor mints an ephemeral identity from the shared counter space.
// It always succeeds and the visitor starts Online.
func (s *IdentityStore) JoinAsVisitor(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &Visitor{
		ID:     visitorPrefix + strconv.FormatInt(s.nextID, 10),
		Name:   name,
		Status: StatusOnline,
	}
	s.nextID++
	s.visitors[v.ID] = v

	// The counter itself persists so visitor ids are never reissued to a
	// later registered user.
	s.persistLocked()
	return v.ID
}

// Status resolves an identity's presence. Unknown ids read as Offline.
func (s *IdentityStore) Status(id string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.visitors[id]; ok {
		return v.Status
	}
	if u, ok := s.byID[id]; ok {
		return u.Status
	}
	return StatusOffline
}

// SetStatus applies an explicit presence change.
func (s *IdentityStore) SetStatus(id string, status Status) error {
	if _, ok := ParseStatus(string(status)); !ok {
		return ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.visitors[id]; ok {
		v.Status = status
		return nil
	}
	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	s.persistLocked()
	return nil
}

// Name resolves an identity's display name.
func (s *IdentityStore) Name(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.visitors[id]; ok {
		return v.Name, true
	}
	if u, ok := s.byID[id]; ok {
		return u.Username, true
	}
	return "", false
}

// Exists reports whether id names a known identity.
func (s *IdentityStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.visitors[id]; ok {
		return true
	}
	_, ok := s.byID[id]
	return ok
}

// Disconnect runs the presence part of session teardown: the identity goes
// Offline unless it is Invisible, and visitors are destroyed outright. It
// returns the resulting status and whether the identity was a visitor.
func (s *IdentityStore) Disconnect(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.visitors[id]; ok {
		status := v.Status
		if status != StatusInvisible {
			status = StatusOffline
		}
		delete(s.visitors, id)
		return status, true
	}

	u, ok := s.byID[id]
	if !ok {
		return StatusOffline, false
	}
	if u.Status != StatusInvisible {
		u.Status = StatusOffline
		s.persistLocked()
	}
	return u.Status, false
}

// persistLocked saves the user table; callers hold s.mu. Saves are
// best-effort: a failure is logged and the in-memory state stays
// authoritative.
func (s *IdentityStore) persistLocked() {
	table := storage.UserTable{
		NextID: s.nextID,
		Users:  make(map[string]storage.UserRecord, len(s.byUsername)),
	}
	for username, u := range s.byUsername {
		table.Users[username] = storage.UserRecord{
			UserID:   u.ID,
			Password: u.Credential,
			Status:   string(u.Status),
		}
	}
	if err := s.store.SaveUsers(table); err != nil {
		s.log.Error().Err(err).Msg("persist user table")
	}
}
