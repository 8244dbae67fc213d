package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FrameSource produces encoded frames for a streamer, typically JPEG bytes
// from a capture device. Next blocks until a frame is available and returns
// io.EOF when the source is exhausted.
type FrameSource interface {
	Next() ([]byte, error)
}

// StreamerOptions tune a Streamer. Zero values take the defaults.
type StreamerOptions struct {
	// FrameInterval paces the capture loop; default 33ms (~30fps).
	FrameInterval time.Duration
	// QueueDepth bounds each viewer's pending frames; default 8. When a
	// viewer falls behind, the oldest queued frame is dropped so one slow
	// viewer never stalls the broadcast.
	QueueDepth int
	Logger     zerolog.Logger
}

const (
	defaultFrameInterval = 33 * time.Millisecond
	defaultQueueDepth    = 8
)

// Streamer is the sending side of a livestream: a mini server owned by the
// streaming client. It listens on its own endpoint, which the client
// announces via START_STREAM.
type Streamer struct {
	ln       net.Listener
	interval time.Duration
	depth    int
	log      zerolog.Logger

	mu      sync.Mutex
	viewers map[*streamViewer]struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

type streamViewer struct {
	conn   net.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (v *streamViewer) close() {
	v.once.Do(func() {
		close(v.done)
		v.conn.Close()
	})
}

// NewStreamer opens a listening endpoint on host with an ephemeral port.
func NewStreamer(host string, opts StreamerOptions) (*Streamer, error) {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = defaultFrameInterval
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("listen for viewers: %w", err)
	}

	s := &Streamer{
		ln:       ln,
		interval: opts.FrameInterval,
		depth:    opts.QueueDepth,
		log:      opts.Logger,
		viewers:  make(map[*streamViewer]struct{}),
		stopped:  make(chan struct{}),
	}
	// Accept from the moment the endpoint exists: viewers may connect as
	// soon as the START_STREAM notice lands, before Run begins pacing.
	go s.acceptViewers()
	return s, nil
}

// Endpoint returns the ip and port viewers should connect to, as announced
// in START_STREAM.
func (s *Streamer) Endpoint() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// Addr returns the dialable listener address.
func (s *Streamer) Addr() string {
	ip, port := s.Endpoint()
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// Run accepts viewers and paces frames from source until the context is
// cancelled, the source ends, or Stop is called.
func (s *Streamer) Run(ctx context.Context, source FrameSource) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return nil
		case <-ticker.C:
			frame, err := source.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("frame source: %w", err)
			}
			s.Broadcast(frame)
		}
	}
}

// Broadcast enqueues one frame to every connected viewer, dropping the
// oldest queued frame of any viewer that has fallen behind.
func (s *Streamer) Broadcast(frame []byte) {
	s.mu.Lock()
	viewers := make([]*streamViewer, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	for _, v := range viewers {
		for {
			select {
			case v.frames <- frame:
			default:
				// Queue full: drop the oldest frame and retry.
				select {
				case <-v.frames:
				default:
				}
				continue
			}
			break
		}
	}
}

// ViewerCount reports connected viewers.
func (s *Streamer) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Stop closes the listener and every viewer connection. Safe to call more
// than once and from any goroutine.
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.ln.Close()

		s.mu.Lock()
		viewers := make([]*streamViewer, 0, len(s.viewers))
		for v := range s.viewers {
			viewers = append(viewers, v)
		}
		s.viewers = make(map[*streamViewer]struct{})
		s.mu.Unlock()

		for _, v := range viewers {
			v.close()
		}
	})
}

func (s *Streamer) acceptViewers() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopped:
			default:
				s.log.Warn().Err(err).Msg("accept viewer")
			}
			return
		}

		v := &streamViewer{
			conn:   conn,
			frames: make(chan []byte, s.depth),
			done:   make(chan struct{}),
		}
		s.mu.Lock()
		s.viewers[v] = struct{}{}
		s.mu.Unlock()
		s.log.Debug().Str("viewer", conn.RemoteAddr().String()).Msg("viewer connected")

		go s.serveViewer(v)
	}
}

func (s *Streamer) serveViewer(v *streamViewer) {
	defer func() {
		v.close()
		s.mu.Lock()
		delete(s.viewers, v)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-v.done:
			return
		case frame := <-v.frames:
			if err := WriteFrame(v.conn, frame); err != nil {
				s.log.Debug().Err(err).Str("viewer", v.conn.RemoteAddr().String()).Msg("drop viewer")
				return
			}
		}
	}
}
