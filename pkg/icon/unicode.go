package icon

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeUnicode trims s and accepts it when it holds one to three
// codepoints, none of which is invisible or direction-altering.
func SanitizeUnicode(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if !utf8.ValidString(s) {
		return "", ErrForbiddenRune
	}
	if utf8.RuneCountInString(s) > MaxUnicodeCodepoints {
		return "", ErrTooLong
	}
	for _, r := range s {
		if forbiddenRune(r) {
			return "", ErrForbiddenRune
		}
	}
	return s, nil
}

// forbiddenRune is a denylist rather than an allowlist of safe ranges so that
// new emoji keep working without a code change.
func forbiddenRune(r rune) bool {
	switch {
	case r == utf8.RuneError:
		return true
	case unicode.IsControl(r):
		return true
	// Bidirectional marks, embeddings, overrides and isolates.
	case r == 0x061C, r == 0x200E, r == 0x200F,
		r >= 0x202A && r <= 0x202E,
		r >= 0x2066 && r <= 0x2069:
		return true
	// Zero-width space, joiners, word joiner, BOM.
	case r >= 0x200B && r <= 0x200D, r == 0x2060, r == 0xFEFF:
		return true
	// Interlinear annotation anchors.
	case r >= 0xFFF9 && r <= 0xFFFB:
		return true
	// Tag characters.
	case r >= 0xE0000 && r <= 0xE007F:
		return true
	}
	return false
}
