package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// TokenScheme prefixes every session token.
const TokenScheme = "beam://"

// DefaultTokenBytes is the number of random bytes behind a session token.
const DefaultTokenBytes = 6

var tokenPattern = regexp.MustCompile(`(?i)^(?:beam://)?([0-9a-f]+)$`)

// GenerateToken mints a session token from n cryptographically random bytes,
// rendered as scheme-prefixed uppercase hex.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenScheme + strings.ToUpper(hex.EncodeToString(b)), nil
}

// NormalizeToken canonicalises user-entered tokens: surrounding whitespace is
// trimmed, the scheme is optional and the hex body is case-insensitive.
func NormalizeToken(raw string) (string, bool) {
	m := tokenPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", false
	}
	return TokenScheme + strings.ToUpper(m[1]), true
}

// IsValidToken reports whether s is a canonical token of n random bytes.
func IsValidToken(s string, n int) bool {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	if !strings.HasPrefix(s, TokenScheme) {
		return false
	}
	body := strings.TrimPrefix(s, TokenScheme)
	if len(body) != 2*n || strings.ToUpper(body) != body {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}
