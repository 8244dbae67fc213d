// Package jsonfile persists server state as whole-file JSON documents under
// a data directory, preserving the layout the original deployment used:
// users.json keyed by username, channels.json and messages.json keyed by
// channel id, plus a capped events.log.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

const (
	usersFile    = "users.json"
	channelsFile = "channels.json"
	messagesFile = "messages.json"
)

// Store implements storage.Store over JSON files. All writes go through a
// temp-file rename so a crash mid-write never corrupts the previous
// snapshot.
type Store struct {
	dir string
	log zerolog.Logger

	mu       sync.Mutex
	messages map[string][]storage.MessageRecord
	events   *eventLog
}

// Open prepares the data directory and loads the message table into memory
// so per-channel saves can rewrite the whole document.
func Open(dir string, eventLogMax int, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		log:    logger,
		events: newEventLog(dir, eventLogMax),
	}

	msgs, err := s.LoadMessages()
	if err != nil {
		return nil, err
	}
	s.messages = msgs
	return s, nil
}

// LoadUsers reads users.json, returning an empty table with the counter at 1
// when the file does not exist yet.
func (s *Store) LoadUsers() (storage.UserTable, error) {
	table := storage.UserTable{NextID: 1, Users: map[string]storage.UserRecord{}}
	if err := s.readJSON(usersFile, &table); err != nil {
		return table, err
	}
	if table.Users == nil {
		table.Users = map[string]storage.UserRecord{}
	}
	if table.NextID < 1 {
		table.NextID = 1
	}
	return table, nil
}

// SaveUsers rewrites users.json.
func (s *Store) SaveUsers(table storage.UserTable) error {
	return s.writeJSON(usersFile, table)
}

// LoadChannels reads channels.json.
func (s *Store) LoadChannels() (storage.ChannelTable, error) {
	table := storage.ChannelTable{NextID: 1, Channels: map[string]storage.ChannelRecord{}}
	if err := s.readJSON(channelsFile, &table); err != nil {
		return table, err
	}
	if table.Channels == nil {
		table.Channels = map[string]storage.ChannelRecord{}
	}
	if table.NextID < 1 {
		table.NextID = 1
	}
	return table, nil
}

// SaveChannels rewrites channels.json.
func (s *Store) SaveChannels(table storage.ChannelTable) error {
	return s.writeJSON(channelsFile, table)
}

// LoadMessages reads messages.json.
func (s *Store) LoadMessages() (map[string][]storage.MessageRecord, error) {
	table := map[string][]storage.MessageRecord{}
	if err := s.readJSON(messagesFile, &table); err != nil {
		return table, err
	}
	return table, nil
}

// SaveMessages replaces one channel's log and rewrites messages.json.
func (s *Store) SaveMessages(channelID string, msgs []storage.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.messages == nil {
		s.messages = map[string][]storage.MessageRecord{}
	}
	s.messages[channelID] = msgs
	return s.writeJSON(messagesFile, s.messages)
}

// AppendEvent appends one record to the capped event log.
func (s *Store) AppendEvent(ev storage.Event) error {
	return s.events.append(ev)
}

// Close releases the event log file handle.
func (s *Store) Close() error {
	return s.events.close()
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		s.log.Warn().Str("file", name).Msg("empty state file, starting fresh")
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
