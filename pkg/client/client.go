// Package client implements the session state machine every Token Beam
// front-end uses to talk to the relay: one outbound WebSocket with automatic
// reconnect, a heartbeat, and a typed event surface.
//
// A Client is created for one role. A source leaves SessionToken empty and
// receives a freshly minted token in its "paired" event; a target passes the
// token shown by the source.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/token-beam/token-beam/pkg/protocol"
	"github.com/token-beam/token-beam/pkg/tokens"
)

// DefaultURL is the public relay.
const DefaultURL = "wss://tokenbeam.dev"

// Default timings.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
)

const writeWait = 10 * time.Second

var (
	ErrNotConnected       = errors.New("cannot sync before connecting")
	ErrInvalidTokenFormat = errors.New("invalid session token format")
	ErrClientTypeRequired = errors.New("client type is required")
	// ErrSuperseded is returned by a connect attempt that lost the race with a
	// newer Connect or Disconnect call.
	ErrSuperseded = errors.New("connection attempt superseded")
)

// State is the client's connection state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StatePaired       State = "paired"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Options configures a Client.
type Options struct {
	URL          string // relay WebSocket URL; DefaultURL when empty
	ClientType   string // "source" for producers, the tool name for targets
	SessionToken string // optional for sources, required for targets
	Origin       string // display name shown to the other side
	Icon         *protocol.Icon

	Dialer *websocket.Dialer
	Header http.Header

	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration

	Logger *slog.Logger
}

// Peer is another member of the session as seen by this client.
type Peer struct {
	ClientType string         `json:"clientType"`
	Origin     string         `json:"origin,omitempty"`
	Icon       *protocol.Icon `json:"icon,omitempty"`
}

func (p Peer) key() string { return p.ClientType + ":" + p.Origin }

// Client is one pairing session with the relay. All methods are safe for
// concurrent use.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	logger *slog.Logger
	events *emitter

	mu             sync.Mutex
	state          State
	token          string
	conn           *websocket.Conn
	gen            uint64 // bumped by Connect and Disconnect; stale attempts bail out
	manual         bool
	backoff        Backoff
	reconnectTimer *time.Timer
	stopHeartbeat  chan struct{}
	peers          map[string]Peer

	writeMu sync.Mutex
}

// New creates an idle Client. The session token, if any, is validated on
// Connect.
func New(opts Options) (*Client, error) {
	if opts.ClientType == "" {
		return nil, ErrClientTypeRequired
	}
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:    opts,
		dialer:  dialer,
		logger:  logger.With("component", "beam-client", "client_type", opts.ClientType),
		events:  newEmitter(),
		state:   StateIdle,
		token:   opts.SessionToken,
		backoff: Backoff{Initial: opts.InitialBackoff, Max: opts.MaxBackoff},
		peers:   make(map[string]Peer),
	}, nil
}

// On registers h for events of type t and returns a function that removes it.
// Handlers run on the client's read goroutine and must not block.
func (c *Client) On(t EventType, h Handler) (off func()) {
	return c.events.on(t, h)
}

// Subscribe returns a buffered channel receiving events of the given types
// (all types when none are given) and a function that closes it. Events are
// dropped for a subscriber whose buffer is full.
func (c *Client) Subscribe(types ...EventType) (<-chan Event, func()) {
	return c.events.subscribe(types...)
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Token returns the normalized session token, or "" before pairing.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Paired reports whether the relay has acknowledged the pair request.
func (c *Client) Paired() bool {
	return c.State() == StatePaired
}

// SetSessionToken replaces the token used by the next pair request. It
// returns false, leaving the token unchanged, when raw is not a valid token.
func (c *Client) SetSessionToken(raw string) bool {
	tok, ok := protocol.NormalizeToken(raw)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	return true
}

// Peers returns the known session members, ordered by client type then origin.
func (c *Client) Peers() []Peer {
	c.mu.Lock()
	out := make([]Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

// Sync sends a token payload to the other side of the session. payload may be
// a *tokens.Payload, raw JSON bytes, or any value that marshals to the
// payload schema; it is validated before it leaves the client.
func (c *Client) Sync(payload any) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, protocol.Message{Type: protocol.TypeSync, Payload: raw})
}

func encodePayload(payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case *tokens.Payload:
		return p.Marshal()
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	if err := tokens.Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// setState records a transition and emits a state event when it changed.
func (c *Client) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	c.emitState(prev, next)
}

// setStateIfCurrent is setState for connect-path transitions; it is a no-op
// when gen has been superseded.
func (c *Client) setStateIfCurrent(gen uint64, next State) bool {
	c.mu.Lock()
	if gen != c.gen || c.manual {
		c.mu.Unlock()
		return false
	}
	prev := c.state
	c.state = next
	c.mu.Unlock()
	c.emitState(prev, next)
	return true
}

func (c *Client) emitState(prev, next State) {
	if prev == next {
		return
	}
	c.logger.Debug("state change", "from", prev, "to", next)
	c.events.emit(Event{Type: EventState, Previous: prev, Current: next})
}

// Connect opens the transport and sends the pair request. It returns once
// the socket is open, without waiting for the pairing reply. When the first
// dial fails the error is returned and a reconnect is still scheduled; call
// Disconnect to stop retrying.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.token != "" {
		tok, ok := protocol.NormalizeToken(c.token)
		if !ok {
			c.mu.Unlock()
			c.setState(StateError)
			c.events.emit(Event{Type: EventError, Message: ErrInvalidTokenFormat.Error()})
			return ErrInvalidTokenFormat
		}
		c.token = tok
	}
	c.manual = false
	c.gen++
	gen := c.gen
	c.stopReconnectLocked()
	c.mu.Unlock()

	return c.connect(ctx, gen)
}

// Disconnect closes the session for good: pending reconnects and the
// heartbeat are cancelled and the client returns to idle. The session token
// is kept so a later Connect can rejoin.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.gen++
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	c.backoff.Reset()
	conn := c.conn
	c.conn = nil
	c.peers = make(map[string]Peer)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.setState(StateIdle)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
}

func (c *Client) write(conn *websocket.Conn, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}
