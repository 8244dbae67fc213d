package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultPollInterval = 200 * time.Millisecond
	defaultIdleTimeout  = 5 * time.Minute
	defaultQueueDepth   = 64
	writeTimeout        = 10 * time.Second
)

// SessionOptions tune a single connection's read/write behaviour.
type SessionOptions struct {
	// PollInterval bounds each blocking read so the loop can observe
	// shutdown and idle expiry.
	PollInterval time.Duration
	// IdleTimeout disconnects a session that sends nothing for this long.
	// Zero disables the idle check.
	IdleTimeout time.Duration
	// QueueDepth sizes the outgoing line buffer. When it is full further
	// lines are dropped rather than stalling the broadcaster.
	QueueDepth int
	// Limiter throttles inbound commands. Nil means unlimited.
	Limiter *rate.Limiter
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = defaultQueueDepth
	}
	return o
}

// Session is one client connection. Reads happen on the owning goroutine;
// writes are serialized through the out channel so broadcasts from other
// sessions never interleave mid-line.
type Session struct {
	ID   string
	conn net.Conn
	opts SessionOptions
	log  zerolog.Logger

	mu       sync.Mutex
	identity string

	out       chan string
	stop      chan struct{}
	closeOnce sync.Once
	writeDone chan struct{}
}

func newSession(conn net.Conn, opts SessionOptions, logger zerolog.Logger) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		conn:      conn,
		opts:      opts,
		log:       logger.With().Str("session_id", id).Str("remote", conn.RemoteAddr().String()).Logger(),
		out:       make(chan string, opts.QueueDepth),
		stop:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Identity returns the bound identity id, or "" before authentication.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) bind(identityID string) {
	s.mu.Lock()
	s.identity = identityID
	s.mu.Unlock()
}

// RemoteIP returns the peer address without the port.
func (s *Session) RemoteIP() string {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}

// Send queues a line for delivery. A full queue drops the line; a slow
// client must not stall the rest of the server.
func (s *Session) Send(line string) {
	select {
	case <-s.stop:
	case s.out <- line:
	default:
		s.log.Warn().Str("line", truncateForLog(line)).Msg("outgoing queue full, dropping line")
	}
}

// SendAll queues each line in order.
func (s *Session) SendAll(lines []string) {
	for _, line := range lines {
		s.Send(line)
	}
}

// Close tears the connection down. Safe to call from any goroutine, any
// number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.conn.Close()
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Session) writeLoop() {
	defer close(s.writeDone)
	for {
		select {
		case <-s.stop:
			return
		case line := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
				s.log.Debug().Err(err).Msg("write failed, closing session")
				s.Close()
				return
			}
		}
	}
}

// readLoop feeds complete lines to handle until the connection drops, the
// context is cancelled, or the idle timeout fires. Each read carries a short
// deadline so the loop stays responsive to shutdown; a deadline expiry in the
// middle of a line keeps the partial input in pending and keeps reading.
func (s *Session) readLoop(ctx context.Context, handle func(line string)) {
	reader := bufio.NewReader(s.conn)
	var pending strings.Builder
	idleAt := time.Now().Add(s.opts.IdleTimeout)

	for {
		if s.closed() {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.opts.PollInterval))
		chunk, err := reader.ReadString('\n')
		pending.WriteString(chunk)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if ctx.Err() != nil {
					return
				}
				if s.opts.IdleTimeout > 0 && time.Now().After(idleAt) {
					s.log.Info().Msg("session idle, disconnecting")
					return
				}
				continue
			}
			return
		}

		line := strings.TrimRight(pending.String(), "\r\n")
		pending.Reset()
		idleAt = time.Now().Add(s.opts.IdleTimeout)
		if line == "" {
			continue
		}
		if s.opts.Limiter != nil && !s.opts.Limiter.Allow() {
			s.Send("RATE_LIMITED")
			continue
		}
		handle(line)
	}
}

func truncateForLog(line string) string {
	const max = 120
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
