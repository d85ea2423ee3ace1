// Package router handles relay WebSocket connections: framing, limits, and
// the pair / sync / ping message flow on top of the session registry.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/token-beam/token-beam/pkg/icon"
	"github.com/token-beam/token-beam/pkg/protocol"
	"github.com/token-beam/token-beam/pkg/tokens"
	"github.com/token-beam/token-beam/relay/internal/metrics"
	"github.com/token-beam/token-beam/relay/internal/session"
	"github.com/token-beam/token-beam/relay/internal/store"
)

// DefaultMaxMessageBytes is the largest accepted frame.
const DefaultMaxMessageBytes = 10 * 1024 * 1024

const auditTimeout = 5 * time.Second

// Options configures the Router.
type Options struct {
	MaxMessageBytes   int64
	MessagesPerSecond float64 // per connection; 0 disables the limit
	MessageBurst      int
	BlockedOrigins    []string

	Store   store.Store      // audit log; nil disables auditing
	Metrics *metrics.Metrics // nil disables metrics

	PingInterval time.Duration
	PongWait     time.Duration
}

// Router manages all WebSocket connections.
type Router struct {
	registry  *session.Registry
	store     store.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	blocklist *Blocklist

	maxMessageBytes int64
	msgRate         rate.Limit
	msgBurst        int
	pingInterval    time.Duration
	pongWait        time.Duration

	mu    sync.RWMutex
	conns map[string]*wsConn
}

// New creates a Router on top of reg.
func New(reg *session.Registry, logger *slog.Logger, opts Options) *Router {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	msgRate := rate.Inf
	if opts.MessagesPerSecond > 0 {
		msgRate = rate.Limit(opts.MessagesPerSecond)
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 1
	}

	return &Router{
		registry:  reg,
		store:     opts.Store,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "router"),
		blocklist: NewBlocklist(opts.BlockedOrigins),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers, desktop plugins and scripts all connect; only the
			// blocklist restricts origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		maxMessageBytes: opts.MaxMessageBytes,
		msgRate:         msgRate,
		msgBurst:        opts.MessageBurst,
		pingInterval:    opts.PingInterval,
		pongWait:        opts.PongWait,
		conns:           make(map[string]*wsConn),
	}
}

// ConnCount returns the number of open sockets.
func (r *Router) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// HandleWS upgrades the request and serves the socket until it closes.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	origin := req.Header.Get("Origin")
	if r.blocklist.Blocked(origin) {
		r.logger.Info("blocked connection", "origin", origin, "remote_addr", req.RemoteAddr)
		r.metrics.OriginBlocked()
		r.audit(&store.Event{Action: store.ActionOriginBlocked, Origin: origin, RemoteAddr: req.RemoteAddr})
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		id:         uuid.New().String(),
		remoteAddr: req.RemoteAddr,
		origin:     origin,
		conn:       conn,
		limiter:    rate.NewLimiter(r.msgRate, r.msgBurst),
	}

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
	r.metrics.ConnOpened()

	stopKeepalive := c.keepalive(r.pingInterval, r.pongWait)

	r.logger.Debug("client connected", "conn_id", c.id, "origin", origin, "remote_addr", req.RemoteAddr)

	defer func() {
		stopKeepalive()
		r.registry.RemoveConnection(c)
		r.mu.Lock()
		delete(r.conns, c.id)
		r.mu.Unlock()
		c.closed.Store(true)
		_ = conn.Close()
		r.metrics.ConnClosed()
		r.logger.Debug("client disconnected", "conn_id", c.id)
	}()

	r.readLoop(c)
}

func (r *Router) readLoop(c *wsConn) {
	for {
		_, rd, err := c.conn.NextReader()
		if err != nil {
			r.logger.Debug("client read error", "conn_id", c.id, "error", err)
			return
		}
		data, err := io.ReadAll(io.LimitReader(rd, r.maxMessageBytes+1))
		if err != nil {
			r.logger.Debug("client read error", "conn_id", c.id, "error", err)
			return
		}
		// Any frame resets the read deadline.
		c.extendDeadline(r.pongWait)

		if int64(len(data)) > r.maxMessageBytes {
			// Discard the rest of the frame; the socket stays usable.
			if _, err := io.Copy(io.Discard, rd); err != nil {
				return
			}
			r.reject(c, "too_large", protocol.ErrTextMessageTooLarge)
			continue
		}

		if !c.limiter.Allow() {
			r.reject(c, "rate_limited", protocol.ErrTextRateLimited)
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			r.reject(c, "invalid_format", protocol.ErrTextInvalidFormat)
			continue
		}
		r.handleMessage(c, msg)
	}
}

func (r *Router) reject(c *wsConn, reason, text string) {
	r.metrics.Rejected(reason)
	r.logger.Debug("message rejected", "conn_id", c.id, "reason", reason)
	c.sendError(text)
}

func (r *Router) handleMessage(c *wsConn, msg protocol.Message) {
	if !protocol.IsInboundType(msg.Type) {
		r.reject(c, "unknown_type", protocol.ErrTextUnknownType)
		return
	}
	r.metrics.Message(msg.Type)

	switch msg.Type {
	case protocol.TypePair:
		r.handlePair(c, msg)
	case protocol.TypeSync:
		r.handleSync(c, msg)
	case protocol.TypePing:
		r.registry.Touch(c)
		_ = c.Send(protocol.Message{Type: protocol.TypePing})
	}
}

func (r *Router) handlePair(c *wsConn, msg protocol.Message) {
	if msg.ClientType == "" {
		r.reject(c, "client_type_required", protocol.ErrTextClientTypeRequired)
		return
	}
	if r.blocklist.Blocked(msg.Origin) {
		r.logger.Info("blocked pairing from reported origin", "origin", msg.Origin, "conn_id", c.id)
		r.metrics.OriginBlocked()
		r.audit(&store.Event{
			Action: store.ActionOriginBlocked, ConnID: c.id, ClientType: msg.ClientType,
			Origin: msg.Origin, RemoteAddr: c.remoteAddr,
		})
		c.sendError(protocol.ErrTextOriginBlocked)
		c.Close("origin blocked")
		return
	}

	if protocol.IsSourceType(msg.ClientType) {
		r.pairSource(c, msg)
		return
	}
	r.pairTarget(c, msg)
}

func (r *Router) pairSource(c *wsConn, msg protocol.Message) {
	var ic *protocol.Icon
	if msg.Icon != nil {
		clean, err := icon.Sanitize(*msg.Icon)
		if err != nil {
			r.logger.Info("icon rejected", "conn_id", c.id, "error", err)
			r.audit(&store.Event{
				Action: store.ActionIconRejected, ConnID: c.id, ClientType: msg.ClientType,
				Origin: msg.Origin, RemoteAddr: c.remoteAddr, Detail: detail("error", err.Error()),
			})
			c.sendError(protocol.Warning(protocol.WarnTextIconRejectedPrefix + err.Error()))
		} else {
			ic = &clean
		}
	}

	if msg.SessionToken != "" {
		if tok, ok := protocol.NormalizeToken(msg.SessionToken); ok {
			info, err := r.registry.RejoinAsSource(tok, c, msg.ClientType, msg.Origin, ic)
			if err == nil {
				_ = c.Send(protocol.Message{
					Type:         protocol.TypePair,
					SessionToken: info.Token,
					ClientType:   msg.ClientType,
					Origin:       info.SourceOrigin,
					Icon:         info.SourceIcon,
				})
				r.audit(&store.Event{
					Action: store.ActionSessionRejoined, SessionID: info.ID, ConnID: c.id,
					ClientType: msg.ClientType, Origin: msg.Origin, RemoteAddr: c.remoteAddr,
				})
				return
			}
			r.logger.Info("source token unavailable", "conn_id", c.id, "error", err)
		}
	}

	info, err := r.registry.CreateSession(c, msg.ClientType, msg.Origin, ic)
	if err != nil {
		r.logger.Error("create session failed", "conn_id", c.id, "error", err)
		c.sendError(protocol.ErrTextNoSession)
		return
	}
	r.metrics.SessionCreated()
	_ = c.Send(protocol.Message{
		Type:         protocol.TypePair,
		SessionToken: info.Token,
		ClientType:   msg.ClientType,
	})
	if msg.SessionToken != "" {
		c.sendError(protocol.Warning(protocol.WarnTextTokenUnavailable))
	}
	r.audit(&store.Event{
		Action: store.ActionSessionCreated, SessionID: info.ID, ConnID: c.id,
		ClientType: msg.ClientType, Origin: msg.Origin, RemoteAddr: c.remoteAddr,
	})
}

func (r *Router) pairTarget(c *wsConn, msg protocol.Message) {
	if msg.SessionToken == "" {
		r.reject(c, "token_required", protocol.ErrTextTokenRequired)
		return
	}

	var (
		info session.Info
		err  = session.ErrInvalidToken
	)
	if tok, ok := protocol.NormalizeToken(msg.SessionToken); ok {
		info, err = r.registry.JoinAsTarget(tok, c, msg.ClientType, msg.Origin)
	}
	if err != nil {
		r.audit(&store.Event{
			Action: store.ActionTargetRejected, ConnID: c.id, ClientType: msg.ClientType,
			Origin: msg.Origin, RemoteAddr: c.remoteAddr,
		})
		r.reject(c, "invalid_token", protocol.ErrTextInvalidToken)
		return
	}

	_ = c.Send(protocol.Message{
		Type:         protocol.TypePair,
		SessionToken: info.Token,
		ClientType:   msg.ClientType,
		Origin:       info.SourceOrigin,
		Icon:         info.SourceIcon,
	})
	r.audit(&store.Event{
		Action: store.ActionTargetJoined, SessionID: info.ID, ConnID: c.id,
		ClientType: msg.ClientType, Origin: msg.Origin, RemoteAddr: c.remoteAddr,
	})
}

func (r *Router) handleSync(c *wsConn, msg protocol.Message) {
	info, role, ok := r.registry.Lookup(c)
	if !ok {
		r.reject(c, "no_session", protocol.ErrTextNoSession)
		return
	}
	if err := tokens.Validate(msg.Payload); err != nil {
		r.logger.Debug("invalid payload", "conn_id", c.id, "session_id", info.ID, "error", err)
		r.audit(&store.Event{
			Action: store.ActionPayloadRejected, SessionID: info.ID, ConnID: c.id,
			RemoteAddr: c.remoteAddr, Detail: detail("error", err.Error()),
		})
		r.reject(c, "invalid_payload", protocol.ErrTextInvalidPayload)
		return
	}
	r.registry.Touch(c)

	recipients, err := r.registry.Recipients(c)
	if errors.Is(err, session.ErrSourceNotConnected) {
		r.reject(c, "source_not_connected", protocol.ErrTextSourceNotConnected)
		return
	}
	if err != nil {
		r.reject(c, "no_session", protocol.ErrTextNoSession)
		return
	}

	out := protocol.Message{Type: protocol.TypeSync, Payload: msg.Payload}
	sent := 0
	for _, peer := range recipients {
		if err := peer.Send(out); err != nil {
			r.logger.Debug("relay failed", "conn_id", peer.ID(), "error", err)
			continue
		}
		sent++
	}
	r.metrics.Relayed(sent)
	r.logger.Debug("synced", "session_id", info.ID, "from", role, "recipients", sent)
}

// SessionClosed records a session removed by the registry. It is wired as
// the registry's OnClose hook.
func (r *Router) SessionClosed(info session.Info, reason string) {
	r.metrics.SessionClosed(reason)
	action := store.ActionSessionEmptied
	switch reason {
	case session.ReasonExpired:
		action = store.ActionSessionExpired
	case session.ReasonAdmin:
		action = store.ActionSessionClosed
	}
	r.audit(&store.Event{Action: action, SessionID: info.ID, ClientType: info.SourceType, Origin: info.SourceOrigin})
}

// Shutdown closes every session and every socket with reason.
func (r *Router) Shutdown(reason string) {
	r.registry.CloseAll(reason)

	r.mu.RLock()
	conns := make([]*wsConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.Close(reason)
	}
}

func (r *Router) audit(ev *store.Event) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := r.store.LogEvent(ctx, ev); err != nil {
		r.logger.Warn("audit log failed", "action", ev.Action, "error", err)
	}
}

func detail(key, value string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{key: value})
	return b
}
