package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/token-beam/token-beam/relay/internal/config"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func logEvent(t *testing.T, s Store, e Event) Event {
	t.Helper()
	if err := s.LogEvent(context.Background(), &e); err != nil {
		t.Fatalf("LogEvent(%s): %v", e.Action, err)
	}
	return e
}

func TestSQLite_LogAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	created := logEvent(t, s, Event{
		Action: ActionSessionCreated, SessionID: "s1", ConnID: "c1",
		ClientType: "source", Origin: "Demo", RemoteAddr: "10.0.0.1",
		Detail: json.RawMessage(`{"token_bytes":6}`), CreatedAt: base,
	})
	logEvent(t, s, Event{Action: ActionTargetJoined, SessionID: "s1", ConnID: "c2", ClientType: "figma", CreatedAt: base.Add(time.Second)})
	logEvent(t, s, Event{Action: ActionSessionCreated, SessionID: "s2", ConnID: "c3", CreatedAt: base.Add(2 * time.Second)})

	if created.ID == "" {
		t.Fatal("LogEvent should assign an id")
	}

	all, err := s.ListEvents(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].SessionID != "s2" || all[2].ID != created.ID {
		t.Errorf("events should be newest first: %+v", all)
	}
	if string(all[2].Detail) != `{"token_bytes":6}` || all[2].Origin != "Demo" || all[2].RemoteAddr != "10.0.0.1" {
		t.Errorf("fields not round-tripped: %+v", all[2])
	}
	if !all[2].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt: got %v, want %v", all[2].CreatedAt, base)
	}

	sessionEvents, err := s.ListEvents(ctx, Filter{Action: "session."})
	if err != nil {
		t.Fatalf("ListEvents(action prefix): %v", err)
	}
	if len(sessionEvents) != 2 {
		t.Errorf("prefix filter: got %d events, want 2", len(sessionEvents))
	}

	s1, _ := s.ListEvents(ctx, Filter{SessionID: "s1"})
	if len(s1) != 2 {
		t.Errorf("session filter: got %d events, want 2", len(s1))
	}

	recent, _ := s.ListEvents(ctx, Filter{Since: base.Add(time.Second)})
	if len(recent) != 2 {
		t.Errorf("since filter: got %d events, want 2", len(recent))
	}

	page, _ := s.ListEvents(ctx, Filter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Action != ActionTargetJoined {
		t.Errorf("pagination: got %+v", page)
	}
}

func TestSQLite_PurgeOldEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	logEvent(t, s, Event{Action: ActionSessionExpired, CreatedAt: now.Add(-10 * 24 * time.Hour)})
	logEvent(t, s, Event{Action: ActionSessionExpired, CreatedAt: now.Add(-8 * 24 * time.Hour)})
	logEvent(t, s, Event{Action: ActionSessionCreated, CreatedAt: now})

	n, err := s.PurgeOldEvents(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOldEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d events, want 2", n)
	}
	left, _ := s.ListEvents(ctx, Filter{})
	if len(left) != 1 || left[0].Action != ActionSessionCreated {
		t.Errorf("remaining events: %+v", left)
	}
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	logEvent(t, s, Event{Action: ActionOriginBlocked, Origin: "https://blocked.example"})
	_ = s.Close()

	s, err = NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	events, err := s.ListEvents(context.Background(), Filter{Action: ActionOriginBlocked})
	if err != nil || len(events) != 1 {
		t.Fatalf("got %v, %v; want one event", events, err)
	}
}

func TestNewEventID_Ordered(t *testing.T) {
	a := NewEventID()
	time.Sleep(2 * time.Millisecond)
	b := NewEventID()
	if len(a) != 26 {
		t.Errorf("id length: got %d, want 26", len(a))
	}
	if a >= b {
		t.Errorf("ids should sort by time: %s >= %s", a, b)
	}
}

func TestNew_Factory(t *testing.T) {
	s, err := New(config.StorageConfig{Driver: "none"})
	if err != nil {
		t.Fatalf("New(none): %v", err)
	}
	if _, ok := s.(Nop); !ok {
		t.Errorf("none driver: got %T, want Nop", s)
	}
	if err := s.LogEvent(context.Background(), &Event{Action: ActionSessionCreated}); err != nil {
		t.Errorf("Nop.LogEvent: %v", err)
	}

	s, err = New(config.StorageConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "f.db")})
	if err != nil {
		t.Fatalf("New(sqlite): %v", err)
	}
	_ = s.Close()

	if _, err := New(config.StorageConfig{Driver: "mongo"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
