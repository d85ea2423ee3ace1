package dashboard

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/token-beam/token-beam/pkg/client"
)

const samplePayload = `{"collections":[{"name":"Brand","modes":[{"name":"Light","tokens":[{"name":"primary","type":"color","value":"#FF8800"},{"name":"radius","type":"number","value":4}]}]}]}`

func send(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func event(ev client.Event) EventMsg {
	ev.Time = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	return EventMsg{Event: ev}
}

func TestModel_PairAndSync(t *testing.T) {
	m := NewModel("ws://relay.test", "cli")
	m = send(m,
		tea.WindowSizeMsg{Width: 120, Height: 40},
		event(client.Event{Type: client.EventState, Previous: client.StateIdle, Current: client.StatePaired}),
		event(client.Event{Type: client.EventPaired, SessionToken: "beam://ABCDEF", Origin: "Figma"}),
		event(client.Event{Type: client.EventSync, Payload: json.RawMessage(samplePayload)}),
	)

	view := m.View()
	for _, want := range []string{"ws://relay.test", "beam://ABCDEF", "paired", "Figma", "Brand/Light/primary", "#FF8800", "Syncs: 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_Peers(t *testing.T) {
	m := NewModel("ws://relay.test", "source")
	m = send(m,
		event(client.Event{Type: client.EventPeerConnected, ClientType: "figma", Origin: "Figma"}),
		event(client.Event{Type: client.EventPeerConnected, ClientType: "sketch"}),
	)
	if len(m.peers.items) != 2 {
		t.Fatalf("expected 2 peers, got %+v", m.peers.items)
	}

	m = send(m, event(client.Event{Type: client.EventPeerDisconnected, ClientType: "figma", Message: "figma disconnected"}))
	if len(m.peers.items) != 1 || m.peers.items[0].ClientType != "sketch" {
		t.Fatalf("unexpected peers after leave: %+v", m.peers.items)
	}

	m = send(m, event(client.Event{Type: client.EventDisconnected, Err: errors.New("EOF")}))
	if len(m.peers.items) != 0 {
		t.Errorf("peers should clear on disconnect, got %+v", m.peers.items)
	}
}

func TestModel_InvalidSyncKeepsTable(t *testing.T) {
	m := NewModel("ws://relay.test", "cli")
	m = send(m,
		event(client.Event{Type: client.EventSync, Payload: json.RawMessage(samplePayload)}),
		event(client.Event{Type: client.EventSync, Payload: json.RawMessage(`{"collections":[]}`)}),
	)
	if len(m.tokens.items) != 2 {
		t.Errorf("expected previous tokens to remain, got %d", len(m.tokens.items))
	}
}

func TestModel_Keys(t *testing.T) {
	m := NewModel("ws://relay.test", "cli")

	m = send(m, tea.KeyMsg{Type: tea.KeyTab})
	if m.activePanel != PanelLogs {
		t.Errorf("tab should focus logs")
	}

	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	if !strings.Contains(m.View(), "Keyboard Shortcuts") {
		t.Error("help not shown")
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(Model).Quitting() || cmd == nil {
		t.Error("q should quit")
	}
}

func TestTokens_Scroll(t *testing.T) {
	tm := newTokens()
	tm.update(json.RawMessage(samplePayload))
	tm.setHeight(1)

	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if tm.offset != 1 {
		t.Errorf("offset = %d, want 1", tm.offset)
	}
	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if tm.offset != 1 {
		t.Errorf("offset should clamp at 1, got %d", tm.offset)
	}
	if !strings.Contains(tm.View(), "2-2 of 2") {
		t.Errorf("missing position hint: %q", tm.View())
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		ev   client.Event
		want string
	}{
		{client.Event{Type: client.EventState, Previous: client.StateIdle, Current: client.StateConnecting}, "idle -> connecting"},
		{client.Event{Type: client.EventPeerConnected, ClientType: "figma", Origin: "Figma"}, "figma (Figma)"},
		{client.Event{Type: client.EventSync, Payload: json.RawMessage(`{}`)}, "2 bytes"},
		{client.Event{Type: client.EventError, Message: "Invalid session token"}, "Invalid session token"},
	}
	for _, tt := range tests {
		if got := Describe(tt.ev); got != tt.want {
			t.Errorf("Describe(%s) = %q, want %q", tt.ev.Type, got, tt.want)
		}
	}
}
