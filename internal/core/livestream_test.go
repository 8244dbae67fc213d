package core

import (
	"errors"
	"testing"
)

func newTestLivestreamRegistry(t *testing.T) (*LivestreamRegistry, *ChannelStore) {
	t.Helper()
	channels := newTestChannelStore(t)
	return NewLivestreamRegistry(channels), channels
}

func TestStartStopStream(t *testing.T) {
	reg, channels := newTestLivestreamRegistry(t)
	ch, _ := channels.Create("1", "Lounge")
	channels.Join("2", ch.ID)

	ls, err := reg.Start("1", ch.ID, "10.0.0.5", 5000)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if ls.IP != "10.0.0.5" || ls.Port != 5000 {
		t.Errorf("recorded endpoint = %+v", ls)
	}

	active, ok := reg.Active(ch.ID)
	if !ok || active.StreamerID != "1" {
		t.Errorf("active = %+v ok=%v", active, ok)
	}

	if _, err := reg.Stop("1", ch.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := reg.Active(ch.ID); ok {
		t.Error("stream still active after stop")
	}
	if _, err := reg.Stop("1", ch.ID); !errors.Is(err, ErrNoStream) {
		t.Errorf("double stop error = %v, want ErrNoStream", err)
	}
}

func TestStartStreamRejections(t *testing.T) {
	reg, channels := newTestLivestreamRegistry(t)
	ch, _ := channels.Create("1", "Lounge")

	if _, err := reg.Start("1", "999", "10.0.0.5", 5000); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("missing channel error = %v, want ErrChannelNotFound", err)
	}
	if _, err := reg.Start("7", ch.ID, "10.0.0.5", 5000); !errors.Is(err, ErrNotAMember) {
		t.Errorf("non-member error = %v, want ErrNotAMember", err)
	}
}

func TestStreamSlotConflict(t *testing.T) {
	reg, channels := newTestLivestreamRegistry(t)
	ch, _ := channels.Create("1", "Lounge")
	channels.Join("2", ch.ID)

	if _, err := reg.Start("1", ch.ID, "10.0.0.5", 5000); err != nil {
		t.Fatalf("start: %v", err)
	}

	// A different member is rejected, never silently preempted.
	if _, err := reg.Start("2", ch.ID, "10.0.0.9", 6000); !errors.Is(err, ErrStreamActive) {
		t.Errorf("conflict error = %v, want ErrStreamActive", err)
	}

	// The same streamer may re-announce with new coordinates.
	ls, err := reg.Start("1", ch.ID, "10.0.0.5", 5001)
	if err != nil {
		t.Fatalf("re-announce: %v", err)
	}
	if ls.Port != 5001 {
		t.Errorf("re-announced port = %d, want 5001", ls.Port)
	}

	// Stop by someone who is not the streamer does not clear the slot.
	if _, err := reg.Stop("2", ch.ID); !errors.Is(err, ErrNoStream) {
		t.Errorf("foreign stop error = %v, want ErrNoStream", err)
	}
	if _, ok := reg.Active(ch.ID); !ok {
		t.Error("stream cleared by a non-streamer stop")
	}
}

func TestStopAllForStreamer(t *testing.T) {
	reg, channels := newTestLivestreamRegistry(t)
	a, _ := channels.Create("1", "alpha")
	b, _ := channels.Create("1", "beta")
	c, _ := channels.Create("2", "gamma")

	reg.Start("1", a.ID, "10.0.0.5", 5000)
	reg.Start("1", b.ID, "10.0.0.5", 5001)
	reg.Start("2", c.ID, "10.0.0.6", 5002)

	stopped := reg.StopAllFor("1")
	if len(stopped) != 2 {
		t.Fatalf("stopped %d streams, want 2", len(stopped))
	}
	if _, ok := reg.Active(a.ID); ok {
		t.Error("stream a still active")
	}
	if _, ok := reg.Active(c.ID); !ok {
		t.Error("unrelated stream c was stopped")
	}
	if got := reg.StopAllFor("1"); len(got) != 0 {
		t.Errorf("second StopAllFor stopped %d streams, want 0", len(got))
	}
}
