package core

import "sync"

// Livestream is one announced stream endpoint: at most one per channel.
type Livestream struct {
	ChannelID  string
	StreamerID string
	IP         string
	Port       int
}

// LivestreamRegistry tracks the active streamer endpoint per channel. The
// central server only relays these coordinates; frame bytes flow peer to
// peer.
type LivestreamRegistry struct {
	mu        sync.RWMutex
	byChannel map[string]Livestream

	channels *ChannelStore
}

// NewLivestreamRegistry builds an empty registry. Stream entries are
// ephemeral and never persisted.
func NewLivestreamRegistry(channels *ChannelStore) *LivestreamRegistry {
	return &LivestreamRegistry{
		byChannel: make(map[string]Livestream),
		channels:  channels,
	}
}

// Start records a stream endpoint. A different member already streaming is a
// conflict; the same streamer may re-announce, which overwrites the
// coordinates.
func (r *LivestreamRegistry) Start(streamerID, channelID, ip string, port int) (Livestream, error) {
	member, err := r.channels.IsMember(streamerID, channelID)
	if err != nil {
		return Livestream{}, err
	}
	if !member {
		return Livestream{}, ErrNotAMember
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byChannel[channelID]; ok && existing.StreamerID != streamerID {
		return Livestream{}, ErrStreamActive
	}

	ls := Livestream{ChannelID: channelID, StreamerID: streamerID, IP: ip, Port: port}
	r.byChannel[channelID] = ls
	return ls, nil
}

// Stop removes a channel's stream entry if it belongs to streamerID.
func (r *LivestreamRegistry) Stop(streamerID, channelID string) (Livestream, error) {
	if _, ok := r.channels.Get(channelID); !ok {
		return Livestream{}, ErrChannelNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ls, ok := r.byChannel[channelID]
	if !ok || ls.StreamerID != streamerID {
		return Livestream{}, ErrNoStream
	}
	delete(r.byChannel, channelID)
	return ls, nil
}

// Active returns the live entry for a channel, if any.
func (r *LivestreamRegistry) Active(channelID string) (Livestream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ls, ok := r.byChannel[channelID]
	return ls, ok
}

// StopAllFor force-stops every stream hosted by streamerID and returns the
// removed entries. Part of session teardown, so it must work even when the
// streamer never sent STOP_STREAM.
func (r *LivestreamRegistry) StopAllFor(streamerID string) []Livestream {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stopped []Livestream
	for cid, ls := range r.byChannel {
		if ls.StreamerID == streamerID {
			stopped = append(stopped, ls)
			delete(r.byChannel, cid)
		}
	}
	return stopped
}
