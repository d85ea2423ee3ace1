package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/token-beam/token-beam/pkg/protocol"
	"github.com/token-beam/token-beam/relay/internal/session"
	"github.com/token-beam/token-beam/relay/internal/store"
)

const validSync = `{"collections":[{"name":"Brand","modes":[{"name":"Light","tokens":[{"name":"primary","type":"color","value":"#FF8800"}]}]}]}`

type testRelay struct {
	router   *Router
	registry *session.Registry
	store    *store.SQLiteStore
	server   *httptest.Server
}

func setupTestRelay(t *testing.T, opts Options) *testRelay {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	tr := &testRelay{store: s}
	tr.registry = session.NewRegistry(session.Options{
		OnClose: func(info session.Info, reason string) { tr.router.SessionClosed(info, reason) },
	})
	opts.Store = s
	tr.router = New(tr.registry, slog.Default(), opts)
	tr.server = httptest.NewServer(http.HandlerFunc(tr.router.HandleWS))
	t.Cleanup(tr.server.Close)
	return tr
}

func (tr *testRelay) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tr.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func expectError(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	msg := recv(t, conn)
	if msg.Type != protocol.TypeError || msg.Error != want {
		t.Fatalf("expected error %q, got %+v", want, msg)
	}
}

// pairSource connects a web source and returns its socket and token.
func pairSource(t *testing.T, tr *testRelay) (*websocket.Conn, string) {
	t.Helper()
	src := tr.dial(t, nil)
	send(t, src, protocol.Message{Type: protocol.TypePair, ClientType: protocol.ClientTypeWeb, Origin: "https://app.example"})
	reply := recv(t, src)
	if reply.Type != protocol.TypePair || reply.SessionToken == "" {
		t.Fatalf("expected pair reply with token, got %+v", reply)
	}
	return src, reply.SessionToken
}

func pairTarget(t *testing.T, tr *testRelay, src *websocket.Conn, token string) *websocket.Conn {
	t.Helper()
	tgt := tr.dial(t, nil)
	send(t, tgt, protocol.Message{Type: protocol.TypePair, ClientType: "figma", SessionToken: token, Origin: "Figma"})
	reply := recv(t, tgt)
	if reply.Type != protocol.TypePair {
		t.Fatalf("expected pair reply, got %+v", reply)
	}
	if reply.Origin != "https://app.example" {
		t.Errorf("expected source origin in target reply, got %q", reply.Origin)
	}
	notice := recv(t, src)
	if notice.Type != protocol.TypePair || notice.ClientType != "figma" || notice.Origin != "Figma" {
		t.Fatalf("expected pair notice on source, got %+v", notice)
	}
	return tgt
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countEvents(t *testing.T, s store.Store, action string) int {
	t.Helper()
	events, err := s.ListEvents(context.Background(), store.Filter{Action: action, Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	return len(events)
}

func TestPairAndSync(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	src, token := pairSource(t, tr)
	if !protocol.IsValidToken(token, protocol.DefaultTokenBytes) {
		t.Fatalf("unexpected token format %q", token)
	}
	tgt := pairTarget(t, tr, src, token)

	send(t, src, map[string]any{"type": "sync", "payload": json.RawMessage(validSync)})
	got := recv(t, tgt)
	if got.Type != protocol.TypeSync {
		t.Fatalf("expected sync, got %+v", got)
	}
	var want, have any
	_ = json.Unmarshal([]byte(validSync), &want)
	_ = json.Unmarshal(got.Payload, &have)
	if !jsonEqual(want, have) {
		t.Errorf("payload changed in transit: %s", got.Payload)
	}

	// Targets can push back to the source.
	send(t, tgt, map[string]any{"type": "sync", "payload": json.RawMessage(validSync)})
	if got := recv(t, src); got.Type != protocol.TypeSync {
		t.Fatalf("expected sync on source, got %+v", got)
	}

	waitFor(t, "audit events", func() bool {
		return countEvents(t, tr.store, store.ActionSessionCreated) == 1 &&
			countEvents(t, tr.store, store.ActionTargetJoined) == 1
	})
}

func jsonEqual(a, b any) bool {
	x, _ := json.Marshal(a)
	y, _ := json.Marshal(b)
	return string(x) == string(y)
}

func TestPairTarget_TokenNormalized(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	src, token := pairSource(t, tr)

	loose := "  " + strings.ToLower(strings.TrimPrefix(token, protocol.TokenScheme)) + " "
	pairTarget(t, tr, src, loose)
}

func TestPair_Errors(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	conn := tr.dial(t, nil)

	send(t, conn, protocol.Message{Type: protocol.TypePair})
	expectError(t, conn, protocol.ErrTextClientTypeRequired)

	send(t, conn, protocol.Message{Type: protocol.TypePair, ClientType: "figma"})
	expectError(t, conn, protocol.ErrTextTokenRequired)

	send(t, conn, protocol.Message{Type: protocol.TypePair, ClientType: "figma", SessionToken: "beam://000000000000"})
	expectError(t, conn, protocol.ErrTextInvalidToken)

	send(t, conn, protocol.Message{Type: protocol.TypePair, ClientType: "figma", SessionToken: "not a token"})
	expectError(t, conn, protocol.ErrTextInvalidToken)

	waitFor(t, "rejection audit", func() bool {
		return countEvents(t, tr.store, store.ActionTargetRejected) == 2
	})
}

func TestMessageErrors(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	conn := tr.dial(t, nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	expectError(t, conn, protocol.ErrTextInvalidFormat)

	send(t, conn, map[string]string{"type": "teleport"})
	expectError(t, conn, protocol.ErrTextUnknownType)

	send(t, conn, map[string]any{"type": "sync", "payload": json.RawMessage(validSync)})
	expectError(t, conn, protocol.ErrTextNoSession)

	// Error frames sent by a client are not accepted inbound.
	send(t, conn, protocol.ErrorMessage("boom"))
	expectError(t, conn, protocol.ErrTextUnknownType)
}

func TestPing(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	conn := tr.dial(t, nil)

	send(t, conn, protocol.Message{Type: protocol.TypePing})
	if got := recv(t, conn); got.Type != protocol.TypePing {
		t.Fatalf("expected ping echo, got %+v", got)
	}
}

func TestOversizedFrame(t *testing.T) {
	tr := setupTestRelay(t, Options{MaxMessageBytes: 256})
	conn := tr.dial(t, nil)

	big := `{"type":"ping","pad":"` + strings.Repeat("x", 1024) + `"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatal(err)
	}
	expectError(t, conn, protocol.ErrTextMessageTooLarge)

	// The socket survives.
	send(t, conn, protocol.Message{Type: protocol.TypePing})
	if got := recv(t, conn); got.Type != protocol.TypePing {
		t.Fatalf("expected ping after oversized frame, got %+v", got)
	}
}

func TestSync_InvalidPayload(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	src, token := pairSource(t, tr)
	tgt := pairTarget(t, tr, src, token)

	send(t, src, map[string]any{"type": "sync", "payload": map[string]any{"collections": []any{}}})
	expectError(t, src, protocol.ErrTextInvalidPayload)

	send(t, src, map[string]any{"type": "sync"})
	expectError(t, src, protocol.ErrTextInvalidPayload)

	// Nothing reached the target; the next frame it sees is a valid sync.
	send(t, src, map[string]any{"type": "sync", "payload": json.RawMessage(validSync)})
	if got := recv(t, tgt); got.Type != protocol.TypeSync {
		t.Fatalf("expected only the valid sync on target, got %+v", got)
	}

	waitFor(t, "payload audit", func() bool {
		return countEvents(t, tr.store, store.ActionPayloadRejected) == 2
	})
}

func TestSync_SourceNotConnected(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	src, token := pairSource(t, tr)
	tgt := pairTarget(t, tr, src, token)

	_ = src.Close()
	expectError(t, tgt, protocol.ClientDisconnected(protocol.ClientTypeSource))

	send(t, tgt, map[string]any{"type": "sync", "payload": json.RawMessage(validSync)})
	expectError(t, tgt, protocol.ErrTextSourceNotConnected)
}

func TestTargetLeave_NotifiesSource(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	src, token := pairSource(t, tr)
	tgt := pairTarget(t, tr, src, token)

	_ = tgt.Close()
	expectError(t, src, protocol.ClientDisconnected("figma"))
}

func TestSourceRejoin(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	src, token := pairSource(t, tr)
	tgt := pairTarget(t, tr, src, token)

	_ = src.Close()
	expectError(t, tgt, protocol.ClientDisconnected(protocol.ClientTypeSource))

	again := tr.dial(t, nil)
	send(t, again, protocol.Message{Type: protocol.TypePair, ClientType: protocol.ClientTypeWeb, SessionToken: token, Origin: "https://app.example"})
	reply := recv(t, again)
	if reply.Type != protocol.TypePair || reply.SessionToken != token {
		t.Fatalf("expected rejoin with same token, got %+v", reply)
	}
	notice := recv(t, tgt)
	if notice.Type != protocol.TypePair || notice.ClientType != protocol.ClientTypeSource {
		t.Fatalf("expected source-back notice on target, got %+v", notice)
	}
}

func TestSourceToken_Unavailable(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	_, token := pairSource(t, tr)

	// The token is held by a live source; a second source gets a new session.
	other := tr.dial(t, nil)
	send(t, other, protocol.Message{Type: protocol.TypePair, ClientType: protocol.ClientTypeWeb, SessionToken: token})
	reply := recv(t, other)
	if reply.Type != protocol.TypePair || reply.SessionToken == token || reply.SessionToken == "" {
		t.Fatalf("expected a fresh token, got %+v", reply)
	}
	warn := recv(t, other)
	if warn.Type != protocol.TypeError || !protocol.IsWarning(warn.Error) {
		t.Fatalf("expected a warning, got %+v", warn)
	}
	if tr.registry.Count() != 2 {
		t.Errorf("expected 2 sessions, got %d", tr.registry.Count())
	}
}

func TestPairSource_IconRejected(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	conn := tr.dial(t, nil)

	send(t, conn, protocol.Message{
		Type:       protocol.TypePair,
		ClientType: protocol.ClientTypeWeb,
		Icon:       &protocol.Icon{Type: protocol.IconSVG, Value: "not an svg"},
	})
	warn := recv(t, conn)
	if warn.Type != protocol.TypeError || !protocol.IsWarning(warn.Error) {
		t.Fatalf("expected icon warning first, got %+v", warn)
	}
	reply := recv(t, conn)
	if reply.Type != protocol.TypePair || reply.SessionToken == "" {
		t.Fatalf("pairing should still succeed, got %+v", reply)
	}
	waitFor(t, "icon audit", func() bool {
		return countEvents(t, tr.store, store.ActionIconRejected) == 1
	})
}

func TestBlockedOrigin_Header(t *testing.T) {
	tr := setupTestRelay(t, Options{BlockedOrigins: []string{"corp.example"}})
	url := "ws" + strings.TrimPrefix(tr.server.URL, "http")

	header := http.Header{"Origin": {"https://design.corp.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	// Unrelated origins still connect.
	tr.dial(t, http.Header{"Origin": {"https://notcorp.example"}})

	waitFor(t, "origin audit", func() bool {
		return countEvents(t, tr.store, store.ActionOriginBlocked) == 1
	})
}

func TestBlockedOrigin_PairMessage(t *testing.T) {
	tr := setupTestRelay(t, Options{BlockedOrigins: []string{"corp.example"}})
	conn := tr.dial(t, nil)

	send(t, conn, protocol.Message{Type: protocol.TypePair, ClientType: protocol.ClientTypeWeb, Origin: "https://corp.example/app"})
	expectError(t, conn, protocol.ErrTextOriginBlocked)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
	if tr.registry.Count() != 0 {
		t.Errorf("no session should be created, got %d", tr.registry.Count())
	}

	// Desktop plugins report a bare hostname rather than a URL.
	bare := tr.dial(t, nil)
	send(t, bare, protocol.Message{Type: protocol.TypePair, ClientType: protocol.ClientTypeWeb, Origin: "app.corp.example"})
	expectError(t, bare, protocol.ErrTextOriginBlocked)
	_ = bare.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := bare.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close for bare hostname, got %v", err)
	}
	if tr.registry.Count() != 0 {
		t.Errorf("no session should be created, got %d", tr.registry.Count())
	}
}

func TestKeepalive_ReadingClientSurvives(t *testing.T) {
	tr := setupTestRelay(t, Options{PingInterval: 20 * time.Millisecond, PongWait: 150 * time.Millisecond})
	conn := tr.dial(t, nil)

	// Reading lets the default ping handler answer with pongs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitFor(t, "connection registered", func() bool { return tr.router.ConnCount() == 1 })
	time.Sleep(500 * time.Millisecond)
	if n := tr.router.ConnCount(); n != 1 {
		t.Fatalf("expected connection to stay open, got %d", n)
	}
	select {
	case <-done:
		t.Fatal("client read loop ended early")
	default:
	}
}

func TestKeepalive_SilentClientDropped(t *testing.T) {
	tr := setupTestRelay(t, Options{PingInterval: 20 * time.Millisecond, PongWait: 150 * time.Millisecond})
	tr.dial(t, nil)

	waitFor(t, "connection registered", func() bool { return tr.router.ConnCount() == 1 })
	waitFor(t, "silent connection dropped", func() bool { return tr.router.ConnCount() == 0 })
}

func TestRateLimit(t *testing.T) {
	tr := setupTestRelay(t, Options{MessagesPerSecond: 0.01, MessageBurst: 2})
	conn := tr.dial(t, nil)

	for i := 0; i < 2; i++ {
		send(t, conn, protocol.Message{Type: protocol.TypePing})
		if got := recv(t, conn); got.Type != protocol.TypePing {
			t.Fatalf("ping %d: got %+v", i, got)
		}
	}
	send(t, conn, protocol.Message{Type: protocol.TypePing})
	expectError(t, conn, protocol.ErrTextRateLimited)
}

func TestShutdown(t *testing.T) {
	tr := setupTestRelay(t, Options{})
	src, token := pairSource(t, tr)
	tgt := pairTarget(t, tr, src, token)

	waitFor(t, "connections", func() bool { return tr.router.ConnCount() == 2 })
	tr.router.Shutdown(protocol.ErrTextServerShuttingDown)

	for _, c := range []*websocket.Conn{src, tgt} {
		expectError(t, c, protocol.ErrTextServerShuttingDown)
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, err := c.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("expected normal close, got %v", err)
		}
	}
	waitFor(t, "connections drained", func() bool { return tr.router.ConnCount() == 0 })
	if tr.registry.Count() != 0 {
		t.Errorf("expected no sessions, got %d", tr.registry.Count())
	}
}
