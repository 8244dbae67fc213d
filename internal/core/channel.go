package core

import (
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

// Channel is a topic room. The host is fixed at creation and is always a
// member; there is no delete path.
type Channel struct {
	ID      string
	Name    string
	Host    string
	Members []string // arrival order, host first
}

// HasMember reports membership.
func (c *Channel) HasMember(id string) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (c *Channel) clone() *Channel {
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	return &cp
}

// ChannelStore owns channels and host/member relationships.
type ChannelStore struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	nextID   int64

	store storage.Store
	log   zerolog.Logger
}

// NewChannelStore loads the persisted channel table.
func NewChannelStore(st storage.Store, logger zerolog.Logger) (*ChannelStore, error) {
	table, err := st.LoadChannels()
	if err != nil {
		return nil, err
	}

	s := &ChannelStore{
		channels: make(map[string]*Channel, len(table.Channels)),
		nextID:   table.NextID,
		store:    st,
		log:      logger,
	}
	for id, rec := range table.Channels {
		ch := &Channel{
			ID:      id,
			Name:    rec.Name,
			Host:    rec.Host,
			Members: append([]string(nil), rec.Members...),
		}
		if !ch.HasMember(ch.Host) {
			// host ∈ members is an invariant; repair a hand-edited table.
			ch.Members = append([]string{ch.Host}, ch.Members...)
		}
		s.channels[id] = ch
	}
	return s, nil
}

// Create makes a new channel with owner as host and sole member. Visitors
// cannot create channels: a visitor host could never satisfy both the
// host-stays-member invariant and visitor destruction on disconnect.
func (s *ChannelStore) Create(ownerID, name string) (*Channel, error) {
	if IsVisitorID(ownerID) {
		return nil, ErrVisitorNotAllowed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch := &Channel{
		ID:      strconv.FormatInt(s.nextID, 10),
		Name:    name,
		Host:    ownerID,
		Members: []string{ownerID},
	}
	s.nextID++
	s.channels[ch.ID] = ch

	s.persistLocked()
	return ch.clone(), nil
}

// Join appends a member.
func (s *ChannelStore) Join(userID, channelID string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	if ch.HasMember(userID) {
		return nil, ErrAlreadyMember
	}

	ch.Members = append(ch.Members, userID)
	s.persistLocked()
	return ch.clone(), nil
}

// Leave removes a member. The host is categorically barred from leaving.
func (s *ChannelStore) Leave(userID, channelID string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	if userID == ch.Host {
		return nil, ErrHostCannotLeave
	}
	if !ch.HasMember(userID) {
		return nil, ErrNotAMember
	}

	ch.Members = removeMember(ch.Members, userID)
	s.persistLocked()
	return ch.clone(), nil
}

// Get returns a copy of one channel.
func (s *ChannelStore) Get(channelID string) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil, false
	}
	return ch.clone(), true
}

// IsMember reports whether userID belongs to channelID.
func (s *ChannelStore) IsMember(userID, channelID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return false, ErrChannelNotFound
	}
	return ch.HasMember(userID), nil
}

// List returns copies of every channel ordered by numeric id.
func (s *ChannelStore) List() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out
}

// RemoveFromAll drops userID from every channel it belongs to and returns
// copies of the touched channels. Used for visitor teardown; hosts are never
// visitors, so the host invariant is not at risk.
func (s *ChannelStore) RemoveFromAll(userID string) []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched []*Channel
	for _, ch := range s.channels {
		if ch.Host == userID || !ch.HasMember(userID) {
			continue
		}
		ch.Members = removeMember(ch.Members, userID)
		touched = append(touched, ch.clone())
	}
	if len(touched) > 0 {
		s.persistLocked()
	}
	return touched
}

func removeMember(members []string, id string) []string {
	out := members[:0]
	for _, m := range members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

func (s *ChannelStore) persistLocked() {
	table := storage.ChannelTable{
		NextID:   s.nextID,
		Channels: make(map[string]storage.ChannelRecord, len(s.channels)),
	}
	for id, ch := range s.channels {
		table.Channels[id] = storage.ChannelRecord{
			Name:    ch.Name,
			Host:    ch.Host,
			Members: append([]string(nil), ch.Members...),
		}
	}
	if err := s.store.SaveChannels(table); err != nil {
		s.log.Error().Err(err).Msg("persist channel table")
	}
}
