package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ViewerOptions configure a Viewer. OnFrame receives each decoded payload;
// OnEnded fires exactly once when the stream is over, however it ended.
type ViewerOptions struct {
	OnFrame func([]byte)
	OnEnded func()
	// MaxFrameSize caps accepted frames; 0 applies DefaultMaxFrameSize.
	MaxFrameSize uint32
	DialTimeout  time.Duration
	Logger       zerolog.Logger
}

const defaultDialTimeout = 5 * time.Second

// Viewer is the receiving side of a livestream: it connects directly to the
// endpoint the server relayed and runs a frame read loop.
type Viewer struct {
	conn net.Conn
	opts ViewerOptions
	log  zerolog.Logger

	stopOnce  sync.Once
	endedOnce sync.Once
	done      chan struct{}
}

// DialViewer connects to a streamer endpoint and starts the receive loop.
func DialViewer(ctx context.Context, addr string, opts ViewerOptions) (*Viewer, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to streamer %s: %w", addr, err)
	}

	v := &Viewer{
		conn: conn,
		opts: opts,
		log:  opts.Logger,
		done: make(chan struct{}),
	}
	go v.receive()
	return v, nil
}

// Stop closes the connection. Safe to call more than once; the OnEnded
// callback still fires exactly once.
func (v *Viewer) Stop() {
	v.stopOnce.Do(func() {
		v.conn.Close()
	})
}

// Done is closed when the receive loop has finished.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

func (v *Viewer) receive() {
	defer func() {
		v.Stop()
		v.endedOnce.Do(func() {
			if v.opts.OnEnded != nil {
				v.opts.OnEnded()
			}
		})
		close(v.done)
	}()

	for {
		frame, err := ReadFrame(v.conn, v.opts.MaxFrameSize)
		if err != nil {
			v.log.Debug().Err(err).Msg("stream ended")
			return
		}
		if v.opts.OnFrame != nil {
			v.opts.OnFrame(frame)
		}
	}
}
