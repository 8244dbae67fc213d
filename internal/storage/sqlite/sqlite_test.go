package sqlite

import (
	"testing"
	"time"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserTableRoundTrip(t *testing.T) {
	s := openTestStore(t)

	table := storage.UserTable{
		NextID: 9,
		Users: map[string]storage.UserRecord{
			"alice": {UserID: "1", Password: "secret", Status: "Invisible"},
			"bob":   {UserID: "2", Password: "hunter2", Status: "Offline"},
		},
	}
	if err := s.SaveUsers(table); err != nil {
		t.Fatalf("save users: %v", err)
	}

	got, err := s.LoadUsers()
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	if got.NextID != 9 {
		t.Errorf("next id = %d, want 9", got.NextID)
	}
	if got.Users["alice"].Status != "Invisible" || got.Users["bob"].Password != "hunter2" {
		t.Errorf("unexpected users: %+v", got.Users)
	}

	// A second save fully replaces the table.
	delete(table.Users, "bob")
	if err := s.SaveUsers(table); err != nil {
		t.Fatalf("resave users: %v", err)
	}
	got, err = s.LoadUsers()
	if err != nil {
		t.Fatalf("reload users: %v", err)
	}
	if len(got.Users) != 1 {
		t.Errorf("user count after replace = %d, want 1", len(got.Users))
	}
}

func TestLoadUsersFreshDatabase(t *testing.T) {
	s := openTestStore(t)

	got, err := s.LoadUsers()
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	if got.NextID != 1 || len(got.Users) != 0 {
		t.Errorf("fresh table = %+v, want empty with counter 1", got)
	}
}

func TestChannelMemberOrderPreserved(t *testing.T) {
	s := openTestStore(t)

	table := storage.ChannelTable{
		NextID: 4,
		Channels: map[string]storage.ChannelRecord{
			"1": {Name: "Lounge", Host: "2", Members: []string{"2", "v7", "3"}},
			"2": {Name: "ops room", Host: "3", Members: []string{"3"}},
		},
	}
	if err := s.SaveChannels(table); err != nil {
		t.Fatalf("save channels: %v", err)
	}

	got, err := s.LoadChannels()
	if err != nil {
		t.Fatalf("load channels: %v", err)
	}
	if got.NextID != 4 {
		t.Errorf("next id = %d, want 4", got.NextID)
	}
	lounge := got.Channels["1"]
	want := []string{"2", "v7", "3"}
	if len(lounge.Members) != len(want) {
		t.Fatalf("members = %v, want %v", lounge.Members, want)
	}
	for i := range want {
		if lounge.Members[i] != want[i] {
			t.Errorf("member[%d] = %q, want %q", i, lounge.Members[i], want[i])
		}
	}
}

func TestMessageLogPerChannel(t *testing.T) {
	s := openTestStore(t)

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	first := []storage.MessageRecord{
		{AuthorID: "1", Timestamp: ts, Text: "one"},
		{AuthorID: "2", Timestamp: ts.Add(time.Minute), Text: "two"},
	}
	if err := s.SaveMessages("1", first); err != nil {
		t.Fatalf("save messages: %v", err)
	}
	if err := s.SaveMessages("2", []storage.MessageRecord{{AuthorID: "3", Timestamp: ts, Text: "other"}}); err != nil {
		t.Fatalf("save messages: %v", err)
	}

	got, err := s.LoadMessages()
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(got["1"]) != 2 || len(got["2"]) != 1 {
		t.Fatalf("unexpected message map: %+v", got)
	}
	if got["1"][0].Text != "one" || got["1"][1].Text != "two" {
		t.Errorf("channel 1 order = %+v", got["1"])
	}
	if !got["1"][0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got["1"][0].Timestamp, ts)
	}

	// Saving one channel leaves the other untouched.
	if err := s.SaveMessages("1", first[:1]); err != nil {
		t.Fatalf("resave messages: %v", err)
	}
	got, err = s.LoadMessages()
	if err != nil {
		t.Fatalf("reload messages: %v", err)
	}
	if len(got["1"]) != 1 || len(got["2"]) != 1 {
		t.Errorf("after partial resave: %+v", got)
	}
}

func TestAppendEvent(t *testing.T) {
	s := openTestStore(t)

	ev := storage.Event{
		Time:       time.Now().UTC(),
		Kind:       storage.EventLogin,
		SessionID:  "abc",
		IdentityID: "1",
		RemoteAddr: "127.0.0.1:4000",
	}
	for i := 0; i < 3; i++ {
		if err := s.AppendEvent(ev); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("event count = %d, want 3", count)
	}
}
