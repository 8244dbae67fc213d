// Package storage defines the persistence contract the state stores call
// into. Saves are whole-snapshot writes triggered synchronously after each
// mutation; the adapter decides the on-disk representation.
package storage

import "time"

// UserRecord is one persisted registered user, keyed by username in the
// user table. Visitors are never persisted.
type UserRecord struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
	Status   string `json:"status"`
}

// UserTable is the persisted user state, including the shared identity
// counter.
type UserTable struct {
	NextID int64                 `json:"next_id"`
	Users  map[string]UserRecord `json:"users"`
}

// ChannelRecord is one persisted channel, keyed by channel id.
type ChannelRecord struct {
	Name    string   `json:"name"`
	Host    string   `json:"host"`
	Members []string `json:"members"`
}

// ChannelTable is the persisted channel state.
type ChannelTable struct {
	NextID   int64                    `json:"next_id"`
	Channels map[string]ChannelRecord `json:"channels"`
}

// MessageRecord is one persisted channel message.
type MessageRecord struct {
	AuthorID  string    `json:"author_id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Event is one record of the append-only connection/event log.
type Event struct {
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id,omitempty"`
	IdentityID string    `json:"identity_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Event kinds recorded by the server.
const (
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventLogin       = "login"
	EventRegister    = "register"
	EventVisitorJoin = "visitor_join"
	EventStreamStart = "stream_start"
	EventStreamStop  = "stream_stop"
)

// Store is the adapter contract. Load methods return empty tables when
// nothing has been persisted yet.
type Store interface {
	LoadUsers() (UserTable, error)
	SaveUsers(UserTable) error

	LoadChannels() (ChannelTable, error)
	SaveChannels(ChannelTable) error

	// LoadMessages returns every per-channel log keyed by channel id.
	LoadMessages() (map[string][]MessageRecord, error)
	// SaveMessages persists one channel's full log.
	SaveMessages(channelID string, msgs []MessageRecord) error

	AppendEvent(Event) error

	Close() error
}

// Discard is a Store that persists nothing. Used by tests and by ephemeral
// server runs.
type Discard struct{}

func (Discard) LoadUsers() (UserTable, error)       { return UserTable{NextID: 1}, nil }
func (Discard) SaveUsers(UserTable) error           { return nil }
func (Discard) LoadChannels() (ChannelTable, error) { return ChannelTable{NextID: 1}, nil }
func (Discard) SaveChannels(ChannelTable) error     { return nil }
func (Discard) LoadMessages() (map[string][]MessageRecord, error) {
	return map[string][]MessageRecord{}, nil
}
func (Discard) SaveMessages(string, []MessageRecord) error { return nil }
func (Discard) AppendEvent(Event) error                    { return nil }
func (Discard) Close() error                               { return nil }
