package jsonfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

func openTestStore(t *testing.T, dir string, eventLogMax int) *Store {
	t.Helper()
	s, err := Open(dir, eventLogMax, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserTableRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, 0)

	table := storage.UserTable{
		NextID: 5,
		Users: map[string]storage.UserRecord{
			"alice": {UserID: "1", Password: "secret", Status: "Online"},
			"bob":   {UserID: "3", Password: "hunter2", Status: "Invisible"},
		},
	}
	if err := s.SaveUsers(table); err != nil {
		t.Fatalf("save users: %v", err)
	}

	reopened := openTestStore(t, dir, 0)
	got, err := reopened.LoadUsers()
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	if got.NextID != 5 {
		t.Errorf("next id = %d, want 5", got.NextID)
	}
	if got.Users["alice"].Status != "Online" || got.Users["bob"].UserID != "3" {
		t.Errorf("unexpected user table: %+v", got.Users)
	}
}

func TestLoadUsersFreshDirectory(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 0)

	table, err := s.LoadUsers()
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	if table.NextID != 1 || len(table.Users) != 0 {
		t.Errorf("fresh table = %+v, want empty with counter 1", table)
	}
}

func TestChannelAndMessageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, 0)

	channels := storage.ChannelTable{
		NextID: 3,
		Channels: map[string]storage.ChannelRecord{
			"1": {Name: "Lounge", Host: "2", Members: []string{"2", "v4"}},
		},
	}
	if err := s.SaveChannels(channels); err != nil {
		t.Fatalf("save channels: %v", err)
	}

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	msgs := []storage.MessageRecord{
		{AuthorID: "2", Timestamp: ts, Text: "first"},
		{AuthorID: "2", Timestamp: ts.Add(time.Second), Text: "second"},
	}
	if err := s.SaveMessages("1", msgs); err != nil {
		t.Fatalf("save messages: %v", err)
	}

	reopened := openTestStore(t, dir, 0)
	gotChannels, err := reopened.LoadChannels()
	if err != nil {
		t.Fatalf("load channels: %v", err)
	}
	ch := gotChannels.Channels["1"]
	if ch.Host != "2" || len(ch.Members) != 2 {
		t.Errorf("unexpected channel record: %+v", ch)
	}

	gotMsgs, err := reopened.LoadMessages()
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(gotMsgs["1"]) != 2 || gotMsgs["1"][0].Text != "first" || gotMsgs["1"][1].Text != "second" {
		t.Errorf("unexpected messages: %+v", gotMsgs["1"])
	}
}

func TestCorruptStateFileFails(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, usersFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := openTestStore(t, dir, 0)
	if _, err := s.LoadUsers(); err == nil {
		t.Error("LoadUsers succeeded on corrupt file, want error")
	}
}

func TestEventLogRotation(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, 3)

	for i := 0; i < 7; i++ {
		ev := storage.Event{Time: time.Now().UTC(), Kind: storage.EventConnect, SessionID: "s"}
		if err := s.AppendEvent(ev); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	backups := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "events-") && strings.HasSuffix(e.Name(), ".log") {
			backups++
		}
	}
	// 7 records with a cap of 3: rotate after 3 and after 6.
	if backups != 2 {
		t.Errorf("backup count = %d, want 2", backups)
	}

	data, err := os.ReadFile(filepath.Join(dir, eventLogName))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "\n"); got != 1 {
		t.Errorf("current log has %d records, want 1", got)
	}
}

func TestEventLogCountSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, 5)
	for i := 0; i < 4; i++ {
		if err := s.AppendEvent(storage.Event{Kind: storage.EventConnect}); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	s2 := openTestStore(t, dir, 5)
	for i := 0; i < 2; i++ {
		if err := s2.AppendEvent(storage.Event{Kind: storage.EventDisconnect}); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, eventLogName))
	if err != nil {
		t.Fatal(err)
	}
	// 4 before reopen + 2 after, cap 5: one rotation at the 6th append.
	if got := strings.Count(string(data), "\n"); got != 1 {
		t.Errorf("current log has %d records, want 1", got)
	}
}
