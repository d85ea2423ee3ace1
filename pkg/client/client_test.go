package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/token-beam/token-beam/pkg/protocol"
	"github.com/token-beam/token-beam/pkg/tokens"
)

const testToken = "beam://AB12CD34EF56"

const colorPayload = `{"collections":[{"name":"Brand","modes":[{"name":"Light","tokens":[{"name":"primary","type":"color","value":"#FF8800"}]}]}]}`

// fakeRelay accepts WebSocket connections and hands them to the test.
type fakeRelay struct {
	srv   *httptest.Server
	conns chan *websocket.Conn

	mu  sync.Mutex
	all []*websocket.Conn
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{conns: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{}
	fr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fr.mu.Lock()
		fr.all = append(fr.all, conn)
		fr.mu.Unlock()
		fr.conns <- conn
	}))
	t.Cleanup(func() {
		fr.mu.Lock()
		for _, c := range fr.all {
			_ = c.Close()
		}
		fr.mu.Unlock()
		fr.srv.Close()
	})
	return fr
}

func (fr *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(fr.srv.URL, "http")
}

func (fr *fakeRelay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fr.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func readMessage(t *testing.T, c *websocket.Conn) protocol.Message {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg protocol.Message
	if err := c.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func writeMessage(t *testing.T, c *websocket.Conn, msg protocol.Message) {
	t.Helper()
	if err := c.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestBackoff_Sequence(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 30 * time.Second}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, w*time.Second)
		}
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("after reset: got %v, want 1s", got)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	var b Backoff
	if got := b.Next(); got != DefaultInitialBackoff {
		t.Errorf("got %v, want %v", got, DefaultInitialBackoff)
	}
	for i := 0; i < 100; i++ {
		b.Next()
	}
	if got := b.Next(); got != DefaultMaxBackoff {
		t.Errorf("got %v after many attempts, want cap %v", got, DefaultMaxBackoff)
	}
}

func TestNew_RequiresClientType(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrClientTypeRequired) {
		t.Errorf("expected ErrClientTypeRequired, got %v", err)
	}
}

func TestConnect_InvalidTokenFormat(t *testing.T) {
	c := newTestClient(t, Options{URL: "ws://127.0.0.1:1", ClientType: "figma", SessionToken: "not a token"})
	events, cancel := c.Subscribe(EventError)
	defer cancel()

	if err := c.Connect(context.Background()); !errors.Is(err, ErrInvalidTokenFormat) {
		t.Fatalf("expected ErrInvalidTokenFormat, got %v", err)
	}
	if c.State() != StateError {
		t.Errorf("state = %s, want error", c.State())
	}
	ev := waitEvent(t, events, EventError)
	if ev.Message != "invalid session token format" {
		t.Errorf("error message = %q", ev.Message)
	}
}

func TestSync_BeforeConnect(t *testing.T) {
	c := newTestClient(t, Options{ClientType: protocol.ClientTypeSource})
	err := c.Sync(json.RawMessage(colorPayload))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err.Error() != "cannot sync before connecting" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestSync_RejectsInvalidPayload(t *testing.T) {
	c := newTestClient(t, Options{ClientType: protocol.ClientTypeSource})
	err := c.Sync(map[string]any{"collections": []any{}})
	if !errors.Is(err, tokens.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestSetSessionToken(t *testing.T) {
	c := newTestClient(t, Options{ClientType: "figma"})
	if c.SetSessionToken("garbage!") {
		t.Error("expected invalid token to be refused")
	}
	if !c.SetSessionToken("ab12cd34ef56") {
		t.Fatal("expected bare hex to be accepted")
	}
	if c.Token() != testToken {
		t.Errorf("token = %q, want %q", c.Token(), testToken)
	}
}

func TestClient_SourceLifecycle(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestClient(t, Options{
		URL:        relay.url(),
		ClientType: protocol.ClientTypeSource,
		Origin:     "Token Beam Demo",
		Icon:       &protocol.Icon{Type: protocol.IconUnicode, Value: "🎨"},
	})
	events, cancel := c.Subscribe()
	defer cancel()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent(t, events, EventConnected)
	if c.Paired() {
		t.Error("client reports paired before the relay replied")
	}

	server := relay.accept(t)
	pair := readMessage(t, server)
	if pair.Type != protocol.TypePair || pair.ClientType != protocol.ClientTypeSource {
		t.Fatalf("unexpected pair request: %+v", pair)
	}
	if pair.SessionToken != "" {
		t.Errorf("source without token sent %q", pair.SessionToken)
	}
	if pair.Origin != "Token Beam Demo" || pair.Icon == nil || pair.Icon.Value != "🎨" {
		t.Errorf("origin/icon not sent: %+v", pair)
	}

	writeMessage(t, server, protocol.Message{Type: protocol.TypePair, SessionToken: testToken, ClientType: protocol.ClientTypeSource})
	paired := waitEvent(t, events, EventPaired)
	if paired.SessionToken != testToken {
		t.Errorf("paired token = %q", paired.SessionToken)
	}
	if c.State() != StatePaired || c.Token() != testToken {
		t.Errorf("state=%s token=%q", c.State(), c.Token())
	}
	if !c.Paired() {
		t.Error("expected Paired after pair reply")
	}

	writeMessage(t, server, protocol.Message{Type: protocol.TypePair, ClientType: "figma", Origin: "Figma"})
	peer := waitEvent(t, events, EventPeerConnected)
	if peer.ClientType != "figma" || peer.Origin != "Figma" {
		t.Errorf("peer event = %+v", peer)
	}
	if peers := c.Peers(); len(peers) != 1 || peers[0].ClientType != "figma" {
		t.Errorf("peers = %+v", peers)
	}

	if err := c.Sync(json.RawMessage(colorPayload)); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	frame := readMessage(t, server)
	if frame.Type != protocol.TypeSync || string(frame.Payload) != colorPayload {
		t.Errorf("sync frame = %+v", frame)
	}

	writeMessage(t, server, protocol.ErrorMessage(protocol.Warning("Icon rejected: too long")))
	warn := waitEvent(t, events, EventWarning)
	if warn.Message != "Icon rejected: too long" {
		t.Errorf("warning message = %q", warn.Message)
	}
	if c.State() != StatePaired {
		t.Errorf("a warning must not change state, got %s", c.State())
	}

	writeMessage(t, server, protocol.ErrorMessage("figma client disconnected"))
	left := waitEvent(t, events, EventPeerDisconnected)
	if left.ClientType != "figma" || left.Message != "figma client disconnected" {
		t.Errorf("peer-disconnected = %+v", left)
	}
	if len(c.Peers()) != 0 {
		t.Errorf("peer not removed: %+v", c.Peers())
	}

	writeMessage(t, server, protocol.ErrorMessage(protocol.ErrTextNoSession))
	fatal := waitEvent(t, events, EventError)
	if fatal.Message != protocol.ErrTextNoSession {
		t.Errorf("error message = %q", fatal.Message)
	}
	if c.State() != StateError {
		t.Errorf("state = %s, want error", c.State())
	}
}

func TestClient_TargetSeesSource(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestClient(t, Options{URL: relay.url(), ClientType: "figma", SessionToken: "ab12cd34ef56"})
	events, cancel := c.Subscribe(EventPaired, EventSync, EventPeerDisconnected)
	defer cancel()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := relay.accept(t)
	pair := readMessage(t, server)
	if pair.SessionToken != testToken {
		t.Errorf("token not normalized before sending: %q", pair.SessionToken)
	}

	writeMessage(t, server, protocol.Message{
		Type: protocol.TypePair, SessionToken: testToken, ClientType: "figma", Origin: "Demo",
	})
	paired := waitEvent(t, events, EventPaired)
	if paired.Origin != "Demo" {
		t.Errorf("source origin = %q", paired.Origin)
	}
	if peers := c.Peers(); len(peers) != 1 || peers[0].ClientType != protocol.ClientTypeSource {
		t.Errorf("expected the source as peer, got %+v", peers)
	}

	writeMessage(t, server, protocol.Message{Type: protocol.TypeSync, Payload: json.RawMessage(colorPayload)})
	got := waitEvent(t, events, EventSync)
	if string(got.Payload) != colorPayload {
		t.Errorf("payload = %s", got.Payload)
	}

	writeMessage(t, server, protocol.Message{Type: protocol.TypePeerDisconnected, ClientType: protocol.ClientTypeSource})
	left := waitEvent(t, events, EventPeerDisconnected)
	if left.Message != "source client disconnected" {
		t.Errorf("reason = %q", left.Message)
	}
}

func TestClient_ReconnectsWithIssuedToken(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestClient(t, Options{
		URL:            relay.url(),
		ClientType:     protocol.ClientTypeSource,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	})
	events, cancel := c.Subscribe(EventPaired, EventDisconnected, EventConnected)
	defer cancel()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := relay.accept(t)
	readMessage(t, first)
	writeMessage(t, first, protocol.Message{Type: protocol.TypePair, SessionToken: testToken, ClientType: protocol.ClientTypeSource})
	waitEvent(t, events, EventPaired)

	_ = first.Close()
	waitEvent(t, events, EventDisconnected)

	second := relay.accept(t)
	pair := readMessage(t, second)
	if pair.SessionToken != testToken {
		t.Errorf("reconnect should rejoin with %q, sent %q", testToken, pair.SessionToken)
	}
	waitEvent(t, events, EventConnected)

	c.mu.Lock()
	attempts := c.backoff.Attempts()
	c.mu.Unlock()
	if attempts != 0 {
		t.Errorf("backoff not reset after reconnect: %d attempts", attempts)
	}
}

func TestClient_DisconnectSuppressesReconnect(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestClient(t, Options{
		URL:            relay.url(),
		ClientType:     protocol.ClientTypeSource,
		InitialBackoff: 10 * time.Millisecond,
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := relay.accept(t)
	readMessage(t, server)

	c.Disconnect()
	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}

	select {
	case <-relay.conns:
		t.Fatal("client reconnected after Disconnect")
	case <-time.After(200 * time.Millisecond):
	}

	if err := c.Sync(json.RawMessage(colorPayload)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Sync after Disconnect: %v", err)
	}
}

func TestClient_Heartbeat(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestClient(t, Options{
		URL:               relay.url(),
		ClientType:        protocol.ClientTypeSource,
		HeartbeatInterval: 20 * time.Millisecond,
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := relay.accept(t)
	readMessage(t, server) // pair

	if msg := readMessage(t, server); msg.Type != protocol.TypePing {
		t.Errorf("expected ping, got %+v", msg)
	}
}

func TestConnect_DialFailureSchedulesReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := newTestClient(t, Options{
		URL:            "ws://" + addr,
		ClientType:     protocol.ClientTypeSource,
		InitialBackoff: time.Hour,
		ConnectTimeout: time.Second,
	})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}

	c.mu.Lock()
	pending := c.reconnectTimer != nil
	c.mu.Unlock()
	if !pending {
		t.Error("expected a scheduled reconnect")
	}

	c.Disconnect()
	c.mu.Lock()
	pending = c.reconnectTimer != nil
	c.mu.Unlock()
	if pending {
		t.Error("Disconnect should cancel the scheduled reconnect")
	}
}

func TestOn_Unsubscribe(t *testing.T) {
	c := newTestClient(t, Options{ClientType: protocol.ClientTypeSource})
	var calls int
	off := c.On(EventState, func(Event) { calls++ })

	c.setState(StateConnecting)
	off()
	c.setState(StateConnected)

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}
