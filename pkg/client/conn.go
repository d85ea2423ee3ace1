package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/token-beam/token-beam/pkg/protocol"
)

func (c *Client) connect(ctx context.Context, gen uint64) error {
	if !c.setStateIfCurrent(gen, StateConnecting) {
		return ErrSuperseded
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.opts.URL, c.opts.Header)
	cancel()
	if err != nil {
		c.logger.Warn("connection failed", "url", c.opts.URL, "error", err)
		if c.setStateIfCurrent(gen, StateDisconnected) {
			c.events.emit(Event{Type: EventDisconnected, Err: err})
			c.scheduleReconnect(gen)
		}
		return fmt.Errorf("dial relay: %w", err)
	}

	c.mu.Lock()
	if gen != c.gen || c.manual {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrSuperseded
	}
	c.conn = conn
	c.backoff.Reset()
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.stopHeartbeat = stop
	pair := protocol.Message{
		Type:         protocol.TypePair,
		ClientType:   c.opts.ClientType,
		SessionToken: c.token,
		Origin:       c.opts.Origin,
		Icon:         c.opts.Icon,
	}
	c.mu.Unlock()

	c.logger.Info("connected to relay", "url", c.opts.URL)
	c.setStateIfCurrent(gen, StateConnected)
	c.events.emit(Event{Type: EventConnected})

	go c.readLoop(conn, gen)
	if err := c.write(conn, pair); err != nil {
		// The read loop observes the close and schedules the reconnect.
		c.logger.Warn("send pair failed", "error", err)
		_ = conn.Close()
		return nil
	}
	go c.heartbeat(conn, stop)
	return nil
}

func (c *Client) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(conn, protocol.Message{Type: protocol.TypePing}); err != nil {
				c.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		c.handleMessage(gen, msg)
	}
}

func (c *Client) handleClose(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Disconnect or a newer connection already took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	c.mu.Unlock()
	_ = conn.Close()

	c.logger.Info("disconnected from relay", "error", err)
	if c.setStateIfCurrent(gen, StateDisconnected) {
		c.events.emit(Event{Type: EventDisconnected, Err: err})
		c.scheduleReconnect(gen)
	}
}

func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manual || gen != c.gen || c.reconnectTimer != nil {
		return
	}

	delay := c.backoff.Next()
	c.logger.Info("reconnecting", "delay", delay, "attempt", c.backoff.Attempts())
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.manual || gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		c.mu.Unlock()

		// Failures schedule the next attempt themselves.
		_ = c.connect(context.Background(), gen)
	})
}

func (c *Client) handleMessage(gen uint64, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePair:
		if msg.SessionToken != "" {
			c.handlePaired(gen, msg)
			return
		}
		if msg.ClientType != "" {
			peer := Peer{ClientType: msg.ClientType, Origin: msg.Origin, Icon: msg.Icon}
			c.mu.Lock()
			c.peers[peer.key()] = peer
			c.mu.Unlock()
			c.events.emit(Event{
				Type:       EventPeerConnected,
				ClientType: peer.ClientType,
				Origin:     peer.Origin,
				Icon:       peer.Icon,
			})
		}

	case protocol.TypeSync:
		if len(msg.Payload) > 0 {
			c.events.emit(Event{Type: EventSync, Payload: msg.Payload})
		}

	case protocol.TypeError:
		if msg.Error != "" {
			c.handleErrorText(gen, msg.Error)
		}

	case protocol.TypeWarning:
		c.events.emit(Event{Type: EventWarning, Message: protocol.StripWarning(msg.Error)})

	case protocol.TypePeerDisconnected:
		c.peerLeft(msg.ClientType, msg.Error)

	case protocol.TypePing:
	default:
		c.logger.Debug("ignoring unknown frame", "type", msg.Type)
	}
}

func (c *Client) handlePaired(gen uint64, msg protocol.Message) {
	tok, ok := protocol.NormalizeToken(msg.SessionToken)
	if !ok {
		tok = msg.SessionToken
	}

	c.mu.Lock()
	c.token = tok
	// A target learns about its source from the pair reply.
	if !protocol.IsSourceType(c.opts.ClientType) {
		src := Peer{ClientType: protocol.ClientTypeSource, Origin: msg.Origin, Icon: msg.Icon}
		for k, p := range c.peers {
			if p.ClientType == protocol.ClientTypeSource {
				delete(c.peers, k)
			}
		}
		c.peers[src.key()] = src
	}
	c.mu.Unlock()

	c.setStateIfCurrent(gen, StatePaired)
	c.events.emit(Event{
		Type:         EventPaired,
		SessionToken: tok,
		ClientType:   msg.ClientType,
		Origin:       msg.Origin,
		Icon:         msg.Icon,
	})
}

// handleErrorText sorts relay error strings into advisory, peer-left and
// fatal, following the string conventions in package protocol.
func (c *Client) handleErrorText(gen uint64, text string) {
	severity, clientType := protocol.Classify(text)
	switch severity {
	case protocol.SeverityWarning:
		c.events.emit(Event{Type: EventWarning, Message: protocol.StripWarning(text)})
	case protocol.SeverityPeerDisconnected:
		c.peerLeft(clientType, text)
	default:
		c.setStateIfCurrent(gen, StateError)
		c.events.emit(Event{Type: EventError, Message: text})
	}
}

func (c *Client) peerLeft(clientType, reason string) {
	if reason == "" {
		reason = protocol.ClientDisconnected(clientType)
	}
	c.mu.Lock()
	for k, p := range c.peers {
		if p.ClientType == clientType {
			delete(c.peers, k)
		}
	}
	c.mu.Unlock()
	c.events.emit(Event{Type: EventPeerDisconnected, ClientType: clientType, Message: reason})
}
