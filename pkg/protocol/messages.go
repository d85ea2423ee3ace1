// Package protocol defines the wire protocol spoken between Token Beam
// sources, targets and the relay over WebSocket.
//
// All frames are JSON objects sharing one flat shape; the "type" field
// determines which of the optional fields are meaningful.
package protocol

import "encoding/json"

// Message types.
const (
	TypePair             = "pair"
	TypeSync             = "sync"
	TypePing             = "ping"
	TypeError            = "error"
	TypeWarning          = "warning"
	TypePeerDisconnected = "peer-disconnected"
)

// Client types with special meaning to the relay. Every other clientType
// denotes a target (e.g. "figma", "sketch", "aseprite").
const (
	ClientTypeSource = "source"
	// ClientTypeWeb is the legacy name sources used before "source" existed.
	ClientTypeWeb = "web"
)

// Message is the wire format for every frame in both directions.
type Message struct {
	Type         string          `json:"type"`
	SessionToken string          `json:"sessionToken,omitempty"`
	ClientType   string          `json:"clientType,omitempty"`
	Origin       string          `json:"origin,omitempty"`
	Icon         *Icon           `json:"icon,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// IconType tags the Icon union.
type IconType string

const (
	IconUnicode IconType = "unicode"
	IconSVG     IconType = "svg"
)

// Icon is a small display glyph a source advertises to its targets.
type Icon struct {
	Type  IconType `json:"type"`
	Value string   `json:"value"`
}

// IsSourceType reports whether clientType denotes the source role.
func IsSourceType(clientType string) bool {
	return clientType == ClientTypeSource || clientType == ClientTypeWeb
}

// ErrorMessage builds an error frame.
func ErrorMessage(text string) Message {
	return Message{Type: TypeError, Error: text}
}

// Known message types accepted from clients.
var inboundTypes = map[string]bool{
	TypePair: true,
	TypeSync: true,
	TypePing: true,
}

// IsInboundType reports whether t is a type the relay handles.
func IsInboundType(t string) bool {
	return inboundTypes[t]
}
