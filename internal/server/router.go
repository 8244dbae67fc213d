package server

import (
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/core"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/proto"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

// Router dispatches parsed commands against the domain stores and emits the
// resulting replies and broadcasts. It holds no per-session state; the
// session itself carries the bound identity.
type Router struct {
	ids      *core.IdentityStore
	channels *core.ChannelStore
	messages *core.MessageStore
	streams  *core.LivestreamRegistry
	reg      *Registry
	store    storage.Store
	log      zerolog.Logger
}

// NewRouter wires the dispatcher to the domain stores.
func NewRouter(ids *core.IdentityStore, channels *core.ChannelStore, messages *core.MessageStore, streams *core.LivestreamRegistry, reg *Registry, st storage.Store, logger zerolog.Logger) *Router {
	return &Router{
		ids:      ids,
		channels: channels,
		messages: messages,
		streams:  streams,
		reg:      reg,
		store:    st,
		log:      logger,
	}
}

// Dispatch handles one command line from a session. Protocol and domain
// errors answer with their reply token and leave the connection open.
func (rt *Router) Dispatch(sess *Session, line string) {
	req, err := proto.ParseRequest(line)
	if err != nil {
		rt.log.Debug().Err(err).Str("session_id", sess.ID).Msg("rejected command")
		sess.Send(proto.ReplyInvalidCommand)
		return
	}

	switch req.Verb {
	case proto.VerbVisitor:
		rt.handleVisitor(sess, req)
		return
	case proto.VerbLogin:
		rt.handleLogin(sess, req)
		return
	case proto.VerbRegister:
		rt.handleRegister(sess, req)
		return
	}

	if sess.Identity() == "" {
		sess.Send(proto.ReplyNotAuthed)
		return
	}

	switch req.Verb {
	case proto.VerbGetUsername:
		rt.handleGetUsername(sess, req)
	case proto.VerbGetStatus:
		rt.handleGetStatus(sess, req)
	case proto.VerbSetStatus:
		rt.handleSetStatus(sess, req)
	case proto.VerbCreateChannel:
		rt.handleCreateChannel(sess, req)
	case proto.VerbJoinChannel:
		rt.handleJoinChannel(sess, req)
	case proto.VerbLeaveChannel:
		rt.handleLeaveChannel(sess, req)
	case proto.VerbGetChannels:
		rt.handleGetChannels(sess)
	case proto.VerbSendMessage:
		rt.handleSendMessage(sess, req)
	case proto.VerbGetMessages:
		rt.handleGetMessages(sess, req)
	case proto.VerbStartStream:
		rt.handleStartStream(sess, req)
	case proto.VerbStopStream:
		rt.handleStopStream(sess, req)
	case proto.VerbGetPeers:
		rt.handleGetPeers(sess)
	}
}

// asOwner enforces that the identity argument of a mutating command matches
// the session's bound identity. Acting on someone else's behalf is treated
// the same as not being authenticated at all.
func (rt *Router) asOwner(sess *Session, claimed string) bool {
	if claimed != sess.Identity() {
		sess.Send(proto.ReplyNotAuthed)
		return false
	}
	return true
}

// sendDomainErr maps a domain error to its wire token. Unknown errors are
// logged and answered as INVALID_COMMAND so internal details never leak.
func (rt *Router) sendDomainErr(sess *Session, err error) {
	var de *core.DomainError
	if errors.As(err, &de) {
		sess.Send(de.Code)
		return
	}
	rt.log.Error().Err(err).Str("session_id", sess.ID).Msg("unexpected dispatch error")
	sess.Send(proto.ReplyInvalidCommand)
}

func (rt *Router) record(kind string, sess *Session, detail string) {
	ev := storage.Event{
		Time:       time.Now().UTC(),
		Kind:       kind,
		SessionID:  sess.ID,
		IdentityID: sess.Identity(),
		RemoteAddr: sess.conn.RemoteAddr().String(),
		Detail:     detail,
	}
	if err := rt.store.AppendEvent(ev); err != nil {
		rt.log.Warn().Err(err).Str("kind", kind).Msg("append event")
	}
}

func (rt *Router) handleVisitor(sess *Session, req proto.Request) {
	if sess.Identity() != "" {
		sess.Send(proto.ReplyInvalidCommand)
		return
	}
	name := req.Arg(0)
	id := rt.ids.JoinAsVisitor(name)
	sess.bind(id)
	rt.record(storage.EventVisitorJoin, sess, name)
	sess.Send(proto.Line(proto.ReplyWelcomeVisitor, name, id))
	rt.reg.BroadcastAll(proto.StatusLine(id, string(core.StatusOnline)), sess)
}

func (rt *Router) handleLogin(sess *Session, req proto.Request) {
	if sess.Identity() != "" {
		sess.Send(proto.ReplyInvalidCommand)
		return
	}
	id, status, err := rt.ids.Login(req.Arg(0), req.Arg(1))
	if err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	sess.bind(id)
	rt.record(storage.EventLogin, sess, req.Arg(0))
	sess.Send(proto.Line(proto.ReplyLoginSuccess, id))
	rt.reg.BroadcastAll(proto.StatusLine(id, string(status)), sess)
}

func (rt *Router) handleRegister(sess *Session, req proto.Request) {
	if _, err := rt.ids.Register(req.Arg(0), req.Arg(1)); err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	rt.record(storage.EventRegister, sess, req.Arg(0))
	sess.Send(proto.ReplyRegisterSuccess)
}

func (rt *Router) handleGetUsername(sess *Session, req proto.Request) {
	id := req.Arg(0)
	name, ok := rt.ids.Name(id)
	if !ok {
		sess.Send(proto.Line(proto.ReplyUsernameMissing, id))
		return
	}
	sess.Send(proto.Line(proto.ReplyUsername, id, name))
}

func (rt *Router) handleGetStatus(sess *Session, req proto.Request) {
	id := req.Arg(0)
	sess.Send(proto.StatusLine(id, string(rt.ids.Status(id))))
}

func (rt *Router) handleSetStatus(sess *Session, req proto.Request) {
	if !rt.asOwner(sess, req.Arg(0)) {
		return
	}
	status, ok := core.ParseStatus(req.Arg(1))
	if !ok {
		sess.Send(proto.ReplyInvalidStatus)
		return
	}
	if err := rt.ids.SetStatus(req.Arg(0), status); err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	sess.Send(proto.ReplyStatusUpdated)
	rt.reg.BroadcastAll(proto.StatusLine(req.Arg(0), string(status)), sess)
}

func (rt *Router) handleCreateChannel(sess *Session, req proto.Request) {
	if !rt.asOwner(sess, req.Arg(0)) {
		return
	}
	ch, err := rt.channels.Create(req.Arg(0), req.Arg(1))
	if err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	sess.Send(proto.Line(proto.ReplyChannelCreated, ch.ID))
	rt.reg.BroadcastAll(proto.UpdateChannelsLine(ch.ID, ch.Name, ch.Host), sess)
}

func (rt *Router) handleJoinChannel(sess *Session, req proto.Request) {
	if !rt.asOwner(sess, req.Arg(0)) {
		return
	}
	if !rt.ids.Exists(req.Arg(0)) {
		sess.Send(proto.ReplyUserNotFound)
		return
	}
	ch, err := rt.channels.Join(req.Arg(0), req.Arg(1))
	if err != nil {
		rt.sendDomainErr(sess, err)
		return
	}

	// A pre-existing stream rides along with the join reply so the client
	// never needs a separate round trip to discover it.
	lines := []string{proto.ReplyJoinSuccess}
	if ls, ok := rt.streams.Active(ch.ID); ok {
		lines = append(lines, proto.LivestreamStartLine(ls.StreamerID, ls.ChannelID, ls.IP, ls.Port))
	}
	sess.SendAll(lines)
	rt.reg.BroadcastAll(proto.UpdateChannelsLine(ch.ID, ch.Name, ch.Host), sess)
}

func (rt *Router) handleLeaveChannel(sess *Session, req proto.Request) {
	if !rt.asOwner(sess, req.Arg(0)) {
		return
	}
	ch, err := rt.channels.Leave(req.Arg(0), req.Arg(1))
	if err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	sess.Send(proto.ReplyLeaveSuccess)
	rt.reg.BroadcastAll(proto.UpdateChannelsLine(ch.ID, ch.Name, ch.Host), sess)
}

func (rt *Router) handleGetChannels(sess *Session) {
	chs := rt.channels.List()
	if len(chs) == 0 {
		sess.Send(proto.ReplyNoChannels)
		return
	}
	id := sess.Identity()
	lines := make([]string, 0, len(chs))
	for _, ch := range chs {
		cs := proto.ChannelSummary{ID: ch.ID, Host: ch.Host, Name: ch.Name}
		for _, m := range ch.Members {
			if core.IsVisitorID(m) {
				cs.Visitors = append(cs.Visitors, m)
			} else {
				cs.Regulars = append(cs.Regulars, m)
			}
		}
		lines = append(lines, proto.EncodeChannelSummary(cs))
		// Streams the requester can already watch ride along with the
		// roster, same as on join.
		if ch.HasMember(id) {
			if ls, ok := rt.streams.Active(ch.ID); ok {
				lines = append(lines, proto.LivestreamStartLine(ls.StreamerID, ls.ChannelID, ls.IP, ls.Port))
			}
		}
	}
	sess.SendAll(lines)
}

func (rt *Router) handleSendMessage(sess *Session, req proto.Request) {
	if !rt.asOwner(sess, req.Arg(0)) {
		return
	}
	msg, err := rt.messages.Append(req.Arg(1), req.Arg(0), req.Arg(2))
	if err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	sess.Send(proto.ReplyMessageSent)

	ch, ok := rt.channels.Get(msg.ChannelID)
	if !ok {
		return
	}
	// The author receives the broadcast copy too, so clients need no local
	// echo path.
	rt.reg.BroadcastMembers(ch.Members,
		proto.MessageLine(msg.ChannelID, msg.AuthorID, msg.Timestamp, msg.Text), nil)
}

func (rt *Router) handleGetMessages(sess *Session, req proto.Request) {
	msgs, err := rt.messages.Fetch(req.Arg(0))
	if err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	if len(msgs) == 0 {
		sess.Send(proto.ReplyNoMessages)
		return
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, proto.MessageLine(m.ChannelID, m.AuthorID, m.Timestamp, m.Text))
	}
	sess.SendAll(lines)
}

func (rt *Router) handleStartStream(sess *Session, req proto.Request) {
	if !rt.asOwner(sess, req.Arg(0)) {
		return
	}
	port, err := strconv.Atoi(req.Arg(3))
	if err != nil || port < 1 || port > 65535 {
		sess.Send(proto.ReplyInvalidCommand)
		return
	}
	ls, err := rt.streams.Start(req.Arg(0), req.Arg(1), req.Arg(2), port)
	if err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	rt.record(storage.EventStreamStart, sess, ls.ChannelID)
	sess.Send(proto.ReplyStreamStarted)

	if ch, ok := rt.channels.Get(ls.ChannelID); ok {
		rt.reg.BroadcastMembers(ch.Members,
			proto.LivestreamStartLine(ls.StreamerID, ls.ChannelID, ls.IP, ls.Port), sess)
	}
}

func (rt *Router) handleStopStream(sess *Session, req proto.Request) {
	if !rt.asOwner(sess, req.Arg(0)) {
		return
	}
	ls, err := rt.streams.Stop(req.Arg(0), req.Arg(1))
	if err != nil {
		rt.sendDomainErr(sess, err)
		return
	}
	rt.record(storage.EventStreamStop, sess, ls.ChannelID)
	sess.Send(proto.ReplyStreamStopped)

	if ch, ok := rt.channels.Get(ls.ChannelID); ok {
		rt.reg.BroadcastMembers(ch.Members,
			proto.LivestreamStopLine(ls.StreamerID, ls.ChannelID), sess)
	}
}

// handleGetPeers lists the remote addresses of every other connected session
// whose identity is not Invisible. Clients use it to bootstrap direct
// connections.
func (rt *Router) handleGetPeers(sess *Session) {
	tokens := []string{proto.ReplyPeerList}
	for _, other := range rt.reg.Snapshot() {
		if other == sess {
			continue
		}
		id := other.Identity()
		if id == "" || rt.ids.Status(id) == core.StatusInvisible {
			continue
		}
		tokens = append(tokens, other.RemoteIP())
	}
	sess.Send(proto.Line(tokens...))
}
