package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// Human-readable error strings sent in error frames. Clients match several of
// these verbatim, so they must not change.
const (
	ErrTextMessageTooLarge     = "Message too large"
	ErrTextInvalidFormat       = "Invalid message format"
	ErrTextUnknownType         = "Unknown message type"
	ErrTextClientTypeRequired  = "clientType is required"
	ErrTextTokenRequired       = "sessionToken is required"
	ErrTextInvalidToken        = "Invalid session token"
	ErrTextNoSession           = "No active session"
	ErrTextInvalidPayload      = "Invalid payload structure"
	ErrTextSourceNotConnected  = "Web client not connected"
	ErrTextSessionExpired      = "Session expired"
	ErrTextSessionClosed       = "Session closed by administrator"
	ErrTextRateLimited         = "Rate limit exceeded"
	ErrTextOriginBlocked       = "Commercial use detected. Contact sales@tokenbeam.dev for licensing."
	ErrTextServerShuttingDown  = "Server shutting down"
	WarnTextTokenUnavailable   = "Session token unavailable, started a new session"
	WarnTextIconRejectedPrefix = "Icon rejected: "
)

// WarningPrefix marks an error frame as advisory.
const WarningPrefix = "[warn]"

var clientDisconnectedPattern = regexp.MustCompile(`(?i)^([a-z0-9-]+) client disconnected$`)

// Warning formats an advisory error string.
func Warning(text string) string {
	return WarningPrefix + " " + text
}

// IsWarning reports whether an error string is advisory.
func IsWarning(text string) bool {
	return strings.HasPrefix(text, WarningPrefix)
}

// StripWarning removes the advisory prefix, if present.
func StripWarning(text string) string {
	if !IsWarning(text) {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(text, WarningPrefix))
}

// ClientDisconnected formats the peer-left notice for clientType.
func ClientDisconnected(clientType string) string {
	return fmt.Sprintf("%s client disconnected", clientType)
}

// ParseClientDisconnected extracts the clientType from a peer-left notice.
func ParseClientDisconnected(text string) (string, bool) {
	m := clientDisconnectedPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Severity classifies an error string received from the relay.
type Severity int

const (
	SeverityFatal Severity = iota
	SeverityWarning
	SeverityPeerDisconnected
)

// Classify sorts an error string into advisory, peer-left or fatal. For a
// peer-left notice the disconnected clientType is returned as well.
func Classify(text string) (Severity, string) {
	if IsWarning(text) {
		return SeverityWarning, ""
	}
	if ct, ok := ParseClientDisconnected(text); ok {
		return SeverityPeerDisconnected, ct
	}
	return SeverityFatal, ""
}
