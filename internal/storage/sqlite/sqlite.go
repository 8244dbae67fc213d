// Package sqlite implements the storage contract over a single SQLite file.
// It keeps the same snapshot semantics as the JSON adapter: a save replaces
// the table contents inside one transaction.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	user_id  TEXT NOT NULL,
	password TEXT NOT NULL,
	status   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channels (
	channel_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	host       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel_members (
	channel_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	position   INTEGER NOT NULL,
	PRIMARY KEY (channel_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	channel_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	author_id  TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	text       TEXT NOT NULL,
	PRIMARY KEY (channel_id, position)
);
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	time        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	session_id  TEXT,
	identity_id TEXT,
	remote_addr TEXT,
	detail      TEXT
);
`

// Store implements storage.Store for SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the database at dbPath. ":memory:" works for
// tests.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadUsers reads the full user table.
func (s *Store) LoadUsers() (storage.UserTable, error) {
	table := storage.UserTable{NextID: 1, Users: map[string]storage.UserRecord{}}

	next, err := s.counter("next_user_id")
	if err != nil {
		return table, err
	}
	table.NextID = next

	rows, err := s.db.Query(`SELECT username, user_id, password, status FROM users`)
	if err != nil {
		return table, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var username string
		var rec storage.UserRecord
		if err := rows.Scan(&username, &rec.UserID, &rec.Password, &rec.Status); err != nil {
			return table, fmt.Errorf("scan user: %w", err)
		}
		table.Users[username] = rec
	}
	return table, rows.Err()
}

// SaveUsers replaces the user table in one transaction.
func (s *Store) SaveUsers(table storage.UserTable) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM users`); err != nil {
			return fmt.Errorf("clear users: %w", err)
		}
		for username, rec := range table.Users {
			_, err := tx.Exec(
				`INSERT INTO users (username, user_id, password, status) VALUES (?, ?, ?, ?)`,
				username, rec.UserID, rec.Password, rec.Status)
			if err != nil {
				return fmt.Errorf("insert user %s: %w", username, err)
			}
		}
		return setCounter(tx, "next_user_id", table.NextID)
	})
}

// LoadChannels reads the full channel table with ordered member lists.
func (s *Store) LoadChannels() (storage.ChannelTable, error) {
	table := storage.ChannelTable{NextID: 1, Channels: map[string]storage.ChannelRecord{}}

	next, err := s.counter("next_channel_id")
	if err != nil {
		return table, err
	}
	table.NextID = next

	rows, err := s.db.Query(`SELECT channel_id, name, host FROM channels`)
	if err != nil {
		return table, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var rec storage.ChannelRecord
		if err := rows.Scan(&id, &rec.Name, &rec.Host); err != nil {
			return table, fmt.Errorf("scan channel: %w", err)
		}
		table.Channels[id] = rec
	}
	if err := rows.Err(); err != nil {
		return table, err
	}

	memberRows, err := s.db.Query(
		`SELECT channel_id, user_id FROM channel_members ORDER BY channel_id, position`)
	if err != nil {
		return table, fmt.Errorf("query members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var cid, uid string
		if err := memberRows.Scan(&cid, &uid); err != nil {
			return table, fmt.Errorf("scan member: %w", err)
		}
		rec, ok := table.Channels[cid]
		if !ok {
			continue
		}
		rec.Members = append(rec.Members, uid)
		table.Channels[cid] = rec
	}
	return table, memberRows.Err()
}

// SaveChannels replaces the channel table in one transaction.
func (s *Store) SaveChannels(table storage.ChannelTable) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM channels`); err != nil {
			return fmt.Errorf("clear channels: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM channel_members`); err != nil {
			return fmt.Errorf("clear members: %w", err)
		}
		for id, rec := range table.Channels {
			_, err := tx.Exec(
				`INSERT INTO channels (channel_id, name, host) VALUES (?, ?, ?)`,
				id, rec.Name, rec.Host)
			if err != nil {
				return fmt.Errorf("insert channel %s: %w", id, err)
			}
			for pos, uid := range rec.Members {
				_, err := tx.Exec(
					`INSERT INTO channel_members (channel_id, user_id, position) VALUES (?, ?, ?)`,
					id, uid, pos)
				if err != nil {
					return fmt.Errorf("insert member %s of %s: %w", uid, id, err)
				}
			}
		}
		return setCounter(tx, "next_channel_id", table.NextID)
	})
}

// LoadMessages reads every channel's message log.
func (s *Store) LoadMessages() (map[string][]storage.MessageRecord, error) {
	out := map[string][]storage.MessageRecord{}

	rows, err := s.db.Query(
		`SELECT channel_id, author_id, timestamp, text FROM messages ORDER BY channel_id, position`)
	if err != nil {
		return out, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, ts string
		var rec storage.MessageRecord
		if err := rows.Scan(&cid, &rec.AuthorID, &ts, &rec.Text); err != nil {
			return out, fmt.Errorf("scan message: %w", err)
		}
		rec.Timestamp, err = parseTimestamp(ts)
		if err != nil {
			return out, err
		}
		out[cid] = append(out[cid], rec)
	}
	return out, rows.Err()
}

// SaveMessages replaces one channel's log in one transaction.
func (s *Store) SaveMessages(channelID string, msgs []storage.MessageRecord) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM messages WHERE channel_id = ?`, channelID); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		for pos, rec := range msgs {
			_, err := tx.Exec(
				`INSERT INTO messages (channel_id, position, author_id, timestamp, text) VALUES (?, ?, ?, ?, ?)`,
				channelID, pos, rec.AuthorID, formatTimestamp(rec.Timestamp), rec.Text)
			if err != nil {
				return fmt.Errorf("insert message %d of %s: %w", pos, channelID, err)
			}
		}
		return nil
	})
}

// AppendEvent inserts one event record. The events table is unbounded here;
// capping is a property of the file-based log.
func (s *Store) AppendEvent(ev storage.Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (time, kind, session_id, identity_id, remote_addr, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		formatTimestamp(ev.Time), ev.Kind, ev.SessionID, ev.IdentityID, ev.RemoteAddr, ev.Detail)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) inTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) counter(key string) (int64, error) {
	var value int64
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 1, fmt.Errorf("query counter %s: %w", key, err)
	}
	if value < 1 {
		value = 1
	}
	return value, nil
}

const timeLayout = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func setCounter(tx *sql.Tx, key string, value int64) error {
	_, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set counter %s: %w", key, err)
	}
	return nil
}
