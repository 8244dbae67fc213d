// Command streamcast exercises the peer-to-peer frame relay without a GUI
// client. In serve mode it announces a stream on the server, listens for
// viewers, and pushes frames read from a directory of images. In watch mode
// it connects to a streamer endpoint and writes received frames to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/relay"
)

func main() {
	if err := run(); err != nil {
		log.Printf("streamcast: %v", err)
		os.Exit(1)
	}
}

func run() error {
	mode := flag.String("mode", "serve", "serve or watch")
	addr := flag.String("addr", "localhost:5555", "chat server address (serve mode)")
	user := flag.String("user", "", "username (serve mode)")
	pass := flag.String("pass", "", "credential (serve mode)")
	channel := flag.String("channel", "", "channel id to stream into (serve mode)")
	host := flag.String("host", "127.0.0.1", "address to announce for viewers (serve mode)")
	frames := flag.String("frames", ".", "directory of frame files to loop over (serve mode)")
	endpoint := flag.String("endpoint", "", "streamer endpoint ip:port (watch mode)")
	out := flag.String("out", "frames", "output directory for received frames (watch mode)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "serve":
		return serve(ctx, *addr, *user, *pass, *channel, *host, *frames)
	case "watch":
		return watch(ctx, *endpoint, *out)
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
}

// dirSource loops over the files of a directory forever.
type dirSource struct {
	files []string
	next  int
}

func newDirSource(dir string) (*dirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frame files in %s", dir)
	}
	sort.Strings(files)
	return &dirSource{files: files}, nil
}

func (d *dirSource) Next() ([]byte, error) {
	data, err := os.ReadFile(d.files[d.next])
	if err != nil {
		return nil, err
	}
	d.next = (d.next + 1) % len(d.files)
	return data, nil
}

func serve(ctx context.Context, addr, user, pass, channel, host, framesDir string) error {
	source, err := newDirSource(framesDir)
	if err != nil {
		return err
	}

	streamer, err := relay.NewStreamer(host, relay.StreamerOptions{})
	if err != nil {
		return err
	}
	defer streamer.Stop()
	ip, port := streamer.Endpoint()
	log.Printf("serving frames on %s:%d", ip, port)

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}
	defer conn.Close()

	send := func(line string) error {
		_, err := conn.Write([]byte(line + "\n"))
		return err
	}
	reply := make([]byte, 256)
	recv := func() (string, error) {
		n, err := conn.Read(reply)
		return strings.TrimSpace(string(reply[:n])), err
	}

	if err := send(fmt.Sprintf("LOGIN %s %s", user, pass)); err != nil {
		return err
	}
	line, err := recv()
	if err != nil {
		return err
	}
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "LOGIN_SUCCESS" {
		return fmt.Errorf("login rejected: %s", line)
	}
	id := fields[1]

	if err := send(fmt.Sprintf("START_STREAM %s %s %s %d", id, channel, ip, port)); err != nil {
		return err
	}
	if line, err = recv(); err != nil {
		return err
	}
	log.Printf("server: %s", line)

	defer send(fmt.Sprintf("STOP_STREAM %s %s", id, channel))
	return streamer.Run(ctx, source)
}

func watch(ctx context.Context, endpoint, outDir string) error {
	if endpoint == "" {
		return fmt.Errorf("watch mode needs -endpoint")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	n := 0
	viewer, err := relay.DialViewer(ctx, endpoint, relay.ViewerOptions{
		OnFrame: func(frame []byte) {
			path := filepath.Join(outDir, fmt.Sprintf("frame-%06d.jpg", n))
			n++
			if err := os.WriteFile(path, frame, 0o644); err != nil {
				log.Printf("write %s: %v", path, err)
			}
		},
		OnEnded: func() {
			log.Printf("stream ended after %d frames", n)
		},
	})
	if err != nil {
		return err
	}
	defer viewer.Stop()

	select {
	case <-ctx.Done():
	case <-viewer.Done():
	}
	return nil
}
