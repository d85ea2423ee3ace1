// Package session tracks pairing sessions: one optional source connection
// and any number of target connections sharing a session token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/token-beam/token-beam/pkg/protocol"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSourceOccupied     = errors.New("session already has a source")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrSourceNotConnected = errors.New("source not connected")
	ErrNotMember          = errors.New("connection is not in a session")
)

// maxMintAttempts bounds token regeneration on collision with a live token.
const maxMintAttempts = 16

// Conn is the registry's view of a client connection.
type Conn interface {
	ID() string
	Send(msg protocol.Message) error
	Open() bool
	Close(reason string)
}

// Role is a member's side of a session.
type Role string

const (
	RoleSource Role = "source"
	RoleTarget Role = "target"
)

// Close reasons passed to Options.OnClose.
const (
	ReasonEmpty   = "empty"
	ReasonExpired = "expired"
	ReasonAdmin   = "admin"
)

// Options configures a Registry.
type Options struct {
	TokenBytes int
	Logger     *slog.Logger
	Now        func() time.Time

	// OnClose, when set, is called after a session is removed. It runs
	// outside the registry lock.
	OnClose func(info Info, reason string)
}

type member struct {
	conn       Conn
	clientType string
	origin     string
	joinedAt   time.Time
}

type session struct {
	id           string
	token        string
	source       *member
	targets      []*member
	sourceType   string
	sourceOrigin string
	sourceIcon   *protocol.Icon
	createdAt    time.Time
	lastActivity time.Time
	orphanedAt   time.Time // zero while a source is attached
}

func (s *session) empty() bool { return s.source == nil && len(s.targets) == 0 }

// delivery is a frame queued under the lock and written after it is released.
type delivery struct {
	conn Conn
	msg  protocol.Message
}

// Registry owns every live session. A single mutex guards all indices.
type Registry struct {
	tokenBytes int
	logger     *slog.Logger
	now        func() time.Time
	onClose    func(Info, string)

	mu      sync.Mutex
	byID    map[string]*session
	byToken map[string]*session
	byConn  map[string]*session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.TokenBytes <= 0 {
		opts.TokenBytes = protocol.DefaultTokenBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		tokenBytes: opts.TokenBytes,
		logger:     opts.Logger.With("component", "session-registry"),
		now:        opts.Now,
		onClose:    opts.OnClose,
		byID:       make(map[string]*session),
		byToken:    make(map[string]*session),
		byConn:     make(map[string]*session),
	}
}

// CreateSession mints a fresh token and makes conn the source of a new
// session. A connection that already belongs to a session leaves it first.
func (r *Registry) CreateSession(conn Conn, clientType, origin string, icon *protocol.Icon) (Info, error) {
	r.mu.Lock()
	out, closed := r.detachLocked(conn)

	token, err := r.mintLocked()
	if err != nil {
		r.mu.Unlock()
		r.flush(out, closed)
		return Info{}, err
	}

	now := r.now()
	s := &session{
		id:           uuid.New().String(),
		token:        token,
		sourceType:   clientType,
		sourceOrigin: origin,
		sourceIcon:   icon,
		createdAt:    now,
		lastActivity: now,
	}
	s.source = &member{conn: conn, clientType: clientType, origin: origin, joinedAt: now}
	r.byID[s.id] = s
	r.byToken[token] = s
	r.byConn[conn.ID()] = s
	info := s.info()
	r.mu.Unlock()

	r.flush(out, closed)
	r.logger.Info("session created", "session_id", info.ID, "client_type", clientType, "origin", origin)
	return info, nil
}

func (r *Registry) mintLocked() (string, error) {
	for i := 0; i < maxMintAttempts; i++ {
		token, err := protocol.GenerateToken(r.tokenBytes)
		if err != nil {
			return "", err
		}
		if _, taken := r.byToken[token]; !taken {
			return token, nil
		}
	}
	return "", fmt.Errorf("mint token: %d collisions", maxMintAttempts)
}

// RejoinAsSource attaches conn as the source of the session holding token.
// It fails when the token is unknown or another open connection holds the
// source slot. Targets already in the session are told the source is back.
func (r *Registry) RejoinAsSource(token string, conn Conn, clientType, origin string, icon *protocol.Icon) (Info, error) {
	r.mu.Lock()
	s, ok := r.byToken[token]
	if !ok {
		r.mu.Unlock()
		return Info{}, ErrSessionNotFound
	}
	if s.source != nil && s.source.conn.ID() != conn.ID() && s.source.conn.Open() {
		r.mu.Unlock()
		return Info{}, ErrSourceOccupied
	}

	var (
		out    []delivery
		closed []Info
	)
	if cur := r.byConn[conn.ID()]; cur != s {
		out, closed = r.detachLocked(conn)
	} else {
		s.removeTarget(conn.ID())
	}
	if s.source != nil && s.source.conn.ID() != conn.ID() {
		// The previous source socket is dead but its close has not been
		// processed yet.
		delete(r.byConn, s.source.conn.ID())
	}

	now := r.now()
	s.source = &member{conn: conn, clientType: clientType, origin: origin, joinedAt: now}
	s.sourceType = clientType
	s.sourceOrigin = origin
	s.sourceIcon = icon
	s.orphanedAt = time.Time{}
	s.lastActivity = now
	r.byConn[conn.ID()] = s

	notice := protocol.Message{
		Type:       protocol.TypePair,
		ClientType: protocol.ClientTypeSource,
		Origin:     origin,
		Icon:       icon,
	}
	for _, t := range s.targets {
		if t.conn.Open() {
			out = append(out, delivery{conn: t.conn, msg: notice})
		}
	}
	info := s.info()
	r.mu.Unlock()

	r.flush(out, closed)
	r.logger.Info("source rejoined", "session_id", info.ID, "targets", len(info.Targets))
	return info, nil
}

// JoinAsTarget adds conn to the session holding token and tells the source
// about it. The returned Info carries the source's origin and icon.
func (r *Registry) JoinAsTarget(token string, conn Conn, clientType, origin string) (Info, error) {
	r.mu.Lock()
	s, ok := r.byToken[token]
	if !ok {
		r.mu.Unlock()
		return Info{}, ErrInvalidToken
	}

	var (
		out    []delivery
		closed []Info
	)
	if cur := r.byConn[conn.ID()]; cur != s {
		out, closed = r.detachLocked(conn)
	} else if s.source != nil && s.source.conn.ID() == conn.ID() {
		s.source = nil
		s.orphanedAt = r.now()
	}
	s.removeTarget(conn.ID())

	now := r.now()
	s.targets = append(s.targets, &member{conn: conn, clientType: clientType, origin: origin, joinedAt: now})
	s.lastActivity = now
	r.byConn[conn.ID()] = s

	if s.source != nil && s.source.conn.Open() {
		out = append(out, delivery{conn: s.source.conn, msg: protocol.Message{
			Type:       protocol.TypePair,
			ClientType: clientType,
			Origin:     origin,
		}})
	}
	info := s.info()
	r.mu.Unlock()

	r.flush(out, closed)
	r.logger.Info("target joined", "session_id", info.ID, "client_type", clientType, "origin", origin)
	return info, nil
}

// RemoveConnection detaches conn from its session, notifying the other side.
// A session left without members is deleted. Unknown connections are ignored.
func (r *Registry) RemoveConnection(conn Conn) {
	r.mu.Lock()
	out, closed := r.detachLocked(conn)
	r.mu.Unlock()
	r.flush(out, closed)
}

// detachLocked removes conn from whatever session holds it and returns the
// notifications to send plus the sessions that were deleted as a result.
func (r *Registry) detachLocked(conn Conn) ([]delivery, []Info) {
	id := conn.ID()
	s, ok := r.byConn[id]
	if !ok {
		return nil, nil
	}
	delete(r.byConn, id)

	var out []delivery
	if s.source != nil && s.source.conn.ID() == id {
		s.source = nil
		s.orphanedAt = r.now()
		notice := protocol.ErrorMessage(protocol.ClientDisconnected(protocol.ClientTypeSource))
		for _, t := range s.targets {
			if t.conn.Open() {
				out = append(out, delivery{conn: t.conn, msg: notice})
			}
		}
		r.logger.Info("source left", "session_id", s.id, "targets", len(s.targets))
	} else if m := s.removeTarget(id); m != nil {
		if s.source != nil && s.source.conn.Open() {
			out = append(out, delivery{
				conn: s.source.conn,
				msg:  protocol.ErrorMessage(protocol.ClientDisconnected(m.clientType)),
			})
		}
		r.logger.Info("target left", "session_id", s.id, "client_type", m.clientType)
	}

	if s.empty() {
		info := s.info()
		r.deleteLocked(s)
		return out, []Info{info}
	}
	return out, nil
}

func (s *session) removeTarget(connID string) *member {
	for i, t := range s.targets {
		if t.conn.ID() == connID {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			return t
		}
	}
	return nil
}

func (r *Registry) deleteLocked(s *session) {
	delete(r.byID, s.id)
	delete(r.byToken, s.token)
	if s.source != nil {
		delete(r.byConn, s.source.conn.ID())
	}
	for _, t := range s.targets {
		delete(r.byConn, t.conn.ID())
	}
}

// flush writes queued frames and reports deleted sessions. It must be called
// without the lock held.
func (r *Registry) flush(out []delivery, closed []Info) {
	for _, d := range out {
		if err := d.conn.Send(d.msg); err != nil {
			r.logger.Debug("notify failed", "conn_id", d.conn.ID(), "error", err)
		}
	}
	for _, info := range closed {
		r.logger.Info("session removed", "session_id", info.ID, "reason", ReasonEmpty)
		if r.onClose != nil {
			r.onClose(info, ReasonEmpty)
		}
	}
}

// Touch records activity on the session holding conn.
func (r *Registry) Touch(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byConn[conn.ID()]; ok {
		s.lastActivity = r.now()
	}
}

// Lookup returns the session holding conn and conn's role in it.
func (r *Registry) Lookup(conn Conn) (Info, Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn.ID()]
	if !ok {
		return Info{}, "", false
	}
	role := RoleTarget
	if s.source != nil && s.source.conn.ID() == conn.ID() {
		role = RoleSource
	}
	return s.info(), role, true
}

// Recipients returns where a frame from conn should go: every open target
// for a source, the source for a target.
func (r *Registry) Recipients(conn Conn) ([]Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn.ID()]
	if !ok {
		return nil, ErrNotMember
	}
	if s.source != nil && s.source.conn.ID() == conn.ID() {
		out := make([]Conn, 0, len(s.targets))
		for _, t := range s.targets {
			if t.conn.Open() {
				out = append(out, t.conn)
			}
		}
		return out, nil
	}
	if s.source == nil || !s.source.conn.Open() {
		return nil, ErrSourceNotConnected
	}
	return []Conn{s.source.conn}, nil
}

// SweepIdle expires sessions idle for longer than timeout, and sessions whose
// source has been gone for longer than timeout. Every member receives a
// "Session expired" error frame and is closed. It returns the expired
// sessions.
func (r *Registry) SweepIdle(now time.Time, timeout time.Duration) []Info {
	if timeout <= 0 {
		return nil
	}

	r.mu.Lock()
	var expired []*session
	for _, s := range r.byID {
		idle := now.Sub(s.lastActivity) > timeout
		orphaned := !s.orphanedAt.IsZero() && now.Sub(s.orphanedAt) > timeout
		if idle || orphaned {
			expired = append(expired, s)
		}
	}
	infos := make([]Info, 0, len(expired))
	var members []Conn
	for _, s := range expired {
		infos = append(infos, s.info())
		members = append(members, s.members()...)
		r.deleteLocked(s)
	}
	r.mu.Unlock()

	r.closeMembers(members, protocol.ErrTextSessionExpired)
	for _, info := range infos {
		r.logger.Info("session expired", "session_id", info.ID, "idle", now.Sub(info.LastActivity).Round(time.Second))
		if r.onClose != nil {
			r.onClose(info, ReasonExpired)
		}
	}
	return infos
}

// StartIdleSweeper runs SweepIdle every interval until ctx is cancelled.
func (r *Registry) StartIdleSweeper(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 || timeout <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.SweepIdle(r.now(), timeout)
			}
		}
	}()
}

// CloseSession removes a session by id, sending reason to every member
// before closing them.
func (r *Registry) CloseSession(id, reason string) (Info, error) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Info{}, ErrSessionNotFound
	}
	info := s.info()
	members := s.members()
	r.deleteLocked(s)
	r.mu.Unlock()

	r.closeMembers(members, reason)
	r.logger.Info("session closed", "session_id", id, "reason", reason)
	if r.onClose != nil {
		r.onClose(info, ReasonAdmin)
	}
	return info, nil
}

// CloseAll closes every session, used on shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	var members []Conn
	for _, s := range r.byID {
		members = append(members, s.members()...)
	}
	r.byID = make(map[string]*session)
	r.byToken = make(map[string]*session)
	r.byConn = make(map[string]*session)
	r.mu.Unlock()

	r.closeMembers(members, reason)
}

func (r *Registry) closeMembers(members []Conn, reason string) {
	for _, c := range members {
		if c.Open() {
			if err := c.Send(protocol.ErrorMessage(reason)); err != nil {
				r.logger.Debug("notify failed", "conn_id", c.ID(), "error", err)
			}
		}
		c.Close(reason)
	}
}

func (s *session) members() []Conn {
	out := make([]Conn, 0, len(s.targets)+1)
	if s.source != nil {
		out = append(out, s.source.conn)
	}
	for _, t := range s.targets {
		out = append(out, t.conn)
	}
	return out
}

// Get returns a snapshot of the session with the given id.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// List returns snapshots of all sessions, newest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s.info())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Stats returns the number of sessions and the number of attached sources
// and targets across them.
func (r *Registry) Stats() (sessions, sources, targets int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.source != nil {
			sources++
		}
		targets += len(s.targets)
	}
	return len(r.byID), sources, targets
}
