package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// WSBridge exposes the same line protocol over WebSocket. Each accepted
// socket is wrapped into a net.Conn and fed through the regular session
// engine, so browser clients and raw TCP clients share one code path.
type WSBridge struct {
	srv  *Server
	addr string
	log  zerolog.Logger

	http *http.Server
}

// NewWSBridge builds the bridge for a listen address.
func NewWSBridge(srv *Server, addr string, logger zerolog.Logger) *WSBridge {
	return &WSBridge{srv: srv, addr: addr, log: logger}
}

// Run serves the bridge until the context is cancelled.
func (b *WSBridge) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			b.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
			return
		}
		// NetConn binds read lifetimes to ctx, not the request context, so
		// the session survives past the handshake.
		conn := websocket.NetConn(ctx, c, websocket.MessageText)
		b.srv.HandleConn(ctx, conn)
	})

	b.http = &http.Server{Addr: b.addr, Handler: mux}
	b.log.Info().Str("addr", b.addr).Msg("websocket bridge listening")

	errCh := make(chan error, 1)
	go func() { errCh <- b.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.http.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
