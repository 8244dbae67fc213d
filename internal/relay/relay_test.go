package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("jpeg bytes"),
		{},
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	for i, want := range payloads {
		got, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %d bytes, want %d", i, len(got), len(want))
		}
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, bytes.Repeat([]byte{1}, 100)); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFrame(&buf, 10); err == nil {
		t.Error("ReadFrame accepted a frame over the size limit")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("full frame")); err != nil {
		t.Fatal(err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])
	if _, err := ReadFrame(truncated, 0); err == nil {
		t.Error("ReadFrame accepted a truncated payload")
	}
}

func TestStreamerDeliversFramesToViewer(t *testing.T) {
	s, err := NewStreamer("127.0.0.1", StreamerOptions{})
	if err != nil {
		t.Fatalf("new streamer: %v", err)
	}
	defer s.Stop()

	frames := make(chan []byte, 16)
	v, err := DialViewer(context.Background(), s.Addr(), ViewerOptions{
		OnFrame: func(b []byte) { frames <- b },
	})
	if err != nil {
		t.Fatalf("dial viewer: %v", err)
	}
	defer v.Stop()

	waitForViewers(t, s, 1)

	want := []byte("frame-1")
	s.Broadcast(want)

	select {
	case got := <-frames:
		if !bytes.Equal(got, want) {
			t.Errorf("frame = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("viewer never received the frame")
	}
}

func TestViewerOnEndedFiresExactlyOnce(t *testing.T) {
	s, err := NewStreamer("127.0.0.1", StreamerOptions{})
	if err != nil {
		t.Fatalf("new streamer: %v", err)
	}

	var ended atomic.Int32
	v, err := DialViewer(context.Background(), s.Addr(), ViewerOptions{
		OnEnded: func() { ended.Add(1) },
	})
	if err != nil {
		t.Fatalf("dial viewer: %v", err)
	}
	waitForViewers(t, s, 1)

	// Streamer goes away; the viewer's read loop ends.
	s.Stop()

	select {
	case <-v.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("viewer receive loop never finished")
	}

	// Stop after the loop ended must stay idempotent.
	v.Stop()
	v.Stop()

	if got := ended.Load(); got != 1 {
		t.Errorf("OnEnded fired %d times, want 1", got)
	}
}

func TestSlowViewerDropsOldestFrames(t *testing.T) {
	s, err := NewStreamer("127.0.0.1", StreamerOptions{QueueDepth: 2})
	if err != nil {
		t.Fatalf("new streamer: %v", err)
	}
	defer s.Stop()

	// A raw connection that never reads simulates a stalled viewer.
	stalled, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stalled.Close()
	waitForViewers(t, s, 1)

	// Far more frames than the queue depth; Broadcast must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.Broadcast(bytes.Repeat([]byte{byte(i)}, 1024))
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Broadcast blocked on a stalled viewer")
	}
}

func TestStreamerRunPacesSource(t *testing.T) {
	s, err := NewStreamer("127.0.0.1", StreamerOptions{FrameInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new streamer: %v", err)
	}

	frames := make(chan []byte, 16)
	v, err := DialViewer(context.Background(), s.Addr(), ViewerOptions{
		OnFrame: func(b []byte) { frames <- b },
	})
	if err != nil {
		t.Fatalf("dial viewer: %v", err)
	}
	defer v.Stop()
	waitForViewers(t, s, 1)

	src := &countingSource{limit: 3}
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background(), src) }()

	for i := 0; i < 3; i++ {
		select {
		case <-frames:
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned %v after source EOF, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after source EOF")
	}
}

func TestStreamerStopIsIdempotent(t *testing.T) {
	s, err := NewStreamer("127.0.0.1", StreamerOptions{})
	if err != nil {
		t.Fatalf("new streamer: %v", err)
	}
	s.Stop()
	s.Stop()

	if _, err := net.DialTimeout("tcp", s.Addr(), 200*time.Millisecond); err == nil {
		t.Error("listener still accepting after Stop")
	}
}

// countingSource emits limit frames, then EOF.
type countingSource struct {
	limit int
	sent  int
}

func (c *countingSource) Next() ([]byte, error) {
	if c.sent >= c.limit {
		return nil, io.EOF
	}
	c.sent++
	return []byte{byte(c.sent)}, nil
}

func waitForViewers(t *testing.T, s *Streamer, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ViewerCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("viewer count never reached %d", want)
}
