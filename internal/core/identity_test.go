package core

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

func newTestIdentityStore(t *testing.T) *IdentityStore {
	t.Helper()
	s, err := NewIdentityStore(storage.Discard{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new identity store: %v", err)
	}
	return s
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestIdentityStore(t)

	id, err := s.Register("alice", "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == "" || IsVisitorID(id) {
		t.Fatalf("registered id = %q, want non-visitor id", id)
	}
	if got := s.Status(id); got != StatusOffline {
		t.Errorf("status after register = %v, want Offline", got)
	}

	if _, err := s.Register("alice", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate register error = %v, want ErrUsernameTaken", err)
	}

	gotID, status, err := s.Login("alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if gotID != id {
		t.Errorf("login id = %q, want %q", gotID, id)
	}
	if status != StatusOnline {
		t.Errorf("login status = %v, want Online", status)
	}

	if _, _, err := s.Login("alice", "wrong"); !errors.Is(err, ErrLoginFailed) {
		t.Errorf("bad credential error = %v, want ErrLoginFailed", err)
	}
	if _, _, err := s.Login("nobody", "secret"); !errors.Is(err, ErrLoginFailed) {
		t.Errorf("unknown user error = %v, want ErrLoginFailed", err)
	}
}

func TestInvisiblePreservedAcrossLoginAndDisconnect(t *testing.T) {
	s := newTestIdentityStore(t)

	id, _ := s.Register("ghost", "pw")
	if err := s.SetStatus(id, StatusInvisible); err != nil {
		t.Fatalf("set invisible: %v", err)
	}

	if _, status, err := s.Login("ghost", "pw"); err != nil || status != StatusInvisible {
		t.Errorf("login status = %v (err %v), want Invisible preserved", status, err)
	}

	status, wasVisitor := s.Disconnect(id)
	if wasVisitor {
		t.Error("registered user reported as visitor")
	}
	if status != StatusInvisible {
		t.Errorf("disconnect status = %v, want Invisible preserved", status)
	}
	if got := s.Status(id); got != StatusInvisible {
		t.Errorf("status after disconnect = %v, want Invisible", got)
	}
}

func TestSetStatus(t *testing.T) {
	s := newTestIdentityStore(t)
	id, _ := s.Register("alice", "pw")

	if err := s.SetStatus(id, "Sleeping"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("invalid status error = %v, want ErrInvalidStatus", err)
	}
	if err := s.SetStatus("999", StatusOnline); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown user error = %v, want ErrUserNotFound", err)
	}
	if err := s.SetStatus(id, StatusOnline); err != nil {
		t.Errorf("set status: %v", err)
	}
	if got := s.Status(id); got != StatusOnline {
		t.Errorf("status = %v, want Online", got)
	}
}

func TestVisitorLifecycle(t *testing.T) {
	s := newTestIdentityStore(t)

	uid, _ := s.Register("alice", "pw")
	vid := s.JoinAsVisitor("drifter")

	if !IsVisitorID(vid) {
		t.Fatalf("visitor id = %q, want v-prefixed", vid)
	}
	if vid == uid {
		t.Fatalf("visitor id collides with user id %q", uid)
	}
	if got := s.Status(vid); got != StatusOnline {
		t.Errorf("visitor status = %v, want Online", got)
	}
	if name, ok := s.Name(vid); !ok || name != "drifter" {
		t.Errorf("visitor name = %q ok=%v, want drifter", name, ok)
	}

	status, wasVisitor := s.Disconnect(vid)
	if !wasVisitor {
		t.Error("visitor not reported as visitor on disconnect")
	}
	if status != StatusOffline {
		t.Errorf("visitor disconnect status = %v, want Offline", status)
	}
	if s.Exists(vid) {
		t.Error("visitor still exists after disconnect")
	}
	if got := s.Status(vid); got != StatusOffline {
		t.Errorf("destroyed visitor status = %v, want Offline", got)
	}
}

func TestSharedCounterSpace(t *testing.T) {
	s := newTestIdentityStore(t)

	first, _ := s.Register("a", "pw")
	vid := s.JoinAsVisitor("v")
	second, _ := s.Register("b", "pw")

	// "1", "v2", "3": every identity consumes one counter slot.
	if first != "1" || vid != "v2" || second != "3" {
		t.Errorf("ids = %q %q %q, want 1 v2 3", first, vid, second)
	}
}

func TestStatusUnknownIDReadsOffline(t *testing.T) {
	s := newTestIdentityStore(t)
	if got := s.Status("42"); got != StatusOffline {
		t.Errorf("unknown id status = %v, want Offline", got)
	}
}
