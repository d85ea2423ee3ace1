package session

import (
	"time"

	"github.com/token-beam/token-beam/pkg/protocol"
)

// Info is a point-in-time snapshot of a session, safe to use after the
// registry lock is released.
type Info struct {
	ID           string         `json:"id"`
	Token        string         `json:"token"`
	Source       *MemberInfo    `json:"source,omitempty"`
	Targets      []MemberInfo   `json:"targets"`
	SourceType   string         `json:"source_type,omitempty"`
	SourceOrigin string         `json:"source_origin,omitempty"`
	SourceIcon   *protocol.Icon `json:"source_icon,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	OrphanedAt   *time.Time     `json:"orphaned_at,omitempty"`
}

// MemberInfo describes one connection in a session.
type MemberInfo struct {
	ConnID     string    `json:"conn_id"`
	ClientType string    `json:"client_type"`
	Origin     string    `json:"origin,omitempty"`
	JoinedAt   time.Time `json:"joined_at"`
}

// SourceConnected reports whether the snapshot has a source attached.
func (i Info) SourceConnected() bool { return i.Source != nil }

func (m *member) info() MemberInfo {
	return MemberInfo{
		ConnID:     m.conn.ID(),
		ClientType: m.clientType,
		Origin:     m.origin,
		JoinedAt:   m.joinedAt,
	}
}

func (s *session) info() Info {
	info := Info{
		ID:           s.id,
		Token:        s.token,
		Targets:      make([]MemberInfo, 0, len(s.targets)),
		SourceType:   s.sourceType,
		SourceOrigin: s.sourceOrigin,
		SourceIcon:   s.sourceIcon,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if s.source != nil {
		src := s.source.info()
		info.Source = &src
	}
	for _, t := range s.targets {
		info.Targets = append(info.Targets, t.info())
	}
	if !s.orphanedAt.IsZero() {
		at := s.orphanedAt
		info.OrphanedAt = &at
	}
	return info
}
