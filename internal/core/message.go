package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

// Message is one entry of a channel's append-only log. Ordering is the
// server's arrival order.
type Message struct {
	ChannelID string
	AuthorID  string
	Timestamp time.Time
	Text      string
}

// MessageStore owns the per-channel message logs.
type MessageStore struct {
	mu        sync.Mutex
	byChannel map[string][]Message

	channels *ChannelStore
	store    storage.Store
	log      zerolog.Logger
	now      func() time.Time
}

// NewMessageStore loads the persisted message logs.
func NewMessageStore(channels *ChannelStore, st storage.Store, logger zerolog.Logger) (*MessageStore, error) {
	table, err := st.LoadMessages()
	if err != nil {
		return nil, err
	}

	s := &MessageStore{
		byChannel: make(map[string][]Message, len(table)),
		channels:  channels,
		store:     st,
		log:       logger,
		now:       time.Now,
	}
	for cid, recs := range table {
		msgs := make([]Message, 0, len(recs))
		for _, rec := range recs {
			msgs = append(msgs, Message{
				ChannelID: cid,
				AuthorID:  rec.AuthorID,
				Timestamp: rec.Timestamp,
				Text:      rec.Text,
			})
		}
		s.byChannel[cid] = msgs
	}
	return s, nil
}

// Append records a message. Visitors may not post; the author must be a
// member of an existing channel.
func (s *MessageStore) Append(channelID, authorID, text string) (Message, error) {
	if IsVisitorID(authorID) {
		return Message{}, ErrVisitorNotAllowed
	}
	member, err := s.channels.IsMember(authorID, channelID)
	if err != nil {
		return Message{}, err
	}
	if !member {
		return Message{}, ErrNotAMember
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		ChannelID: channelID,
		AuthorID:  authorID,
		Timestamp: s.now().UTC(),
		Text:      text,
	}
	s.byChannel[channelID] = append(s.byChannel[channelID], msg)
	s.persistLocked(channelID)
	return msg, nil
}

// Fetch returns a channel's log in append order. An existing channel with no
// messages returns an empty slice and nil error.
func (s *MessageStore) Fetch(channelID string) ([]Message, error) {
	if _, ok := s.channels.Get(channelID); !ok {
		return nil, ErrChannelNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Message(nil), s.byChannel[channelID]...), nil
}

func (s *MessageStore) persistLocked(channelID string) {
	msgs := s.byChannel[channelID]
	recs := make([]storage.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		recs = append(recs, storage.MessageRecord{
			AuthorID:  m.AuthorID,
			Timestamp: m.Timestamp,
			Text:      m.Text,
		})
	}
	if err := s.store.SaveMessages(channelID, recs); err != nil {
		s.log.Error().Err(err).Str("channel_id", channelID).Msg("persist message log")
	}
}
