package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/core"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/proto"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

// Options configure the listener and per-session behaviour.
type Options struct {
	Addr string

	PollInterval time.Duration
	IdleTimeout  time.Duration
	QueueDepth   int

	// RatePerSec and RateBurst cap inbound commands per session. Zero
	// RatePerSec disables limiting.
	RatePerSec float64
	RateBurst  int
}

// Server accepts TCP connections and runs one session per client.
type Server struct {
	opts   Options
	reg    *Registry
	router *Router

	ids      *core.IdentityStore
	channels *core.ChannelStore
	streams  *core.LivestreamRegistry
	store    storage.Store
	log      zerolog.Logger

	lis net.Listener
	wg  sync.WaitGroup
}

// New builds a server over the domain stores.
func New(opts Options, ids *core.IdentityStore, channels *core.ChannelStore, messages *core.MessageStore, streams *core.LivestreamRegistry, st storage.Store, logger zerolog.Logger) *Server {
	reg := NewRegistry(logger)
	return &Server{
		opts:     opts,
		reg:      reg,
		router:   NewRouter(ids, channels, messages, streams, reg, st, logger),
		ids:      ids,
		channels: channels,
		streams:  streams,
		store:    st,
		log:      logger,
	}
}

// Listen binds the TCP listener. Serve must be called afterwards.
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.lis = lis
	s.log.Info().Str("addr", lis.Addr().String()).Msg("listening")
	return nil
}

// Addr returns the bound listener address. Valid only after Listen.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Serve accepts connections until the context is cancelled, then closes
// every live session and waits for their goroutines to drain.
func (s *Server) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		s.lis.Close()
	}()
	defer close(stop)

	for {
		conn, err := s.lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("accept failed")
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.HandleConn(ctx, conn)
		}()
	}

	for _, sess := range s.reg.Snapshot() {
		sess.Close()
	}
	s.wg.Wait()
	return ctx.Err()
}

// HandleConn runs the full session lifecycle for one connection. Exported so
// alternate transports (the WebSocket bridge) can feed connections into the
// same engine.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	sess := newSession(conn, SessionOptions{
		PollInterval: s.opts.PollInterval,
		IdleTimeout:  s.opts.IdleTimeout,
		QueueDepth:   s.opts.QueueDepth,
		Limiter:      s.newLimiter(),
	}, s.log)

	s.reg.Add(sess)
	s.router.record(storage.EventConnect, sess, "")
	sess.log.Info().Msg("session opened")

	sess.readLoop(ctx, func(line string) {
		s.router.Dispatch(sess, line)
	})

	sess.Close()
	s.teardown(sess)
	sess.log.Info().Msg("session closed")
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.opts.RatePerSec <= 0 {
		return nil
	}
	burst := s.opts.RateBurst
	if burst <= 0 {
		burst = int(s.opts.RatePerSec) + 1
	}
	return rate.NewLimiter(rate.Limit(s.opts.RatePerSec), burst)
}

// teardown releases a session and, when it was the identity's last session,
// runs the disconnect cascade: presence update, forced stream stops, and
// visitor channel removal. Every step is best-effort so a failure in one
// broadcast never blocks the rest.
func (s *Server) teardown(sess *Session) {
	s.router.record(storage.EventDisconnect, sess, "")
	s.reg.Remove(sess)

	id := sess.Identity()
	if id == "" {
		return
	}
	if s.reg.CountFor(id) > 0 {
		sess.log.Debug().Str("identity_id", id).Msg("identity still connected elsewhere, skipping cascade")
		return
	}

	status, wasVisitor := s.ids.Disconnect(id)
	s.reg.BroadcastAll(proto.StatusLine(id, string(status)), nil)

	for _, ls := range s.streams.StopAllFor(id) {
		if ch, ok := s.channels.Get(ls.ChannelID); ok {
			s.reg.BroadcastMembers(ch.Members,
				proto.LivestreamStopLine(ls.StreamerID, ls.ChannelID), nil)
		}
		s.router.record(storage.EventStreamStop, sess, ls.ChannelID)
	}

	if wasVisitor {
		for _, ch := range s.channels.RemoveFromAll(id) {
			s.reg.BroadcastAll(proto.UpdateChannelsLine(ch.ID, ch.Name, ch.Host), nil)
		}
	}
}
