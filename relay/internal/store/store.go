// Package store persists the relay's pairing audit log.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Store is the audit log backend.
type Store interface {
	LogEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, filter Filter) ([]Event, error)
	PurgeOldEvents(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Audit actions.
const (
	ActionSessionCreated  = "session.created"
	ActionSessionRejoined = "session.rejoined"
	ActionSessionExpired  = "session.expired"
	ActionSessionClosed   = "session.closed"
	ActionSessionEmptied  = "session.emptied"
	ActionTargetJoined    = "target.joined"
	ActionTargetRejected  = "target.rejected"
	ActionOriginBlocked   = "origin.blocked"
	ActionPayloadRejected = "payload.rejected"
	ActionIconRejected    = "icon.rejected"
)

// Event is one audit log entry.
type Event struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	SessionID  string          `json:"session_id,omitempty"`
	ConnID     string          `json:"conn_id,omitempty"`
	ClientType string          `json:"client_type,omitempty"`
	Origin     string          `json:"origin,omitempty"`
	RemoteAddr string          `json:"remote_addr,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewEventID returns a lexicographically time-ordered event id.
func NewEventID() string {
	return ulid.Make().String()
}

// Filter narrows ListEvents. Action matches as a prefix, so "session."
// selects every session event.
type Filter struct {
	Action    string
	SessionID string
	Since     time.Time
	Limit     int // default 50
	Offset    int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// Nop discards events. It backs the "none" storage driver.
type Nop struct{}

func (Nop) LogEvent(context.Context, *Event) error { return nil }
func (Nop) ListEvents(context.Context, Filter) ([]Event, error) { return []Event{}, nil }
func (Nop) PurgeOldEvents(context.Context, time.Time) (int64, error) { return 0, nil }
func (Nop) Ping(context.Context) error { return nil }
func (Nop) Close() error { return nil }
