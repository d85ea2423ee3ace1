// Package icon sanitizes the display icon a source advertises to its targets.
//
// Two shapes are accepted: a short unicode glyph (usually an emoji) and a
// small inline SVG. Unicode icons are checked against a denylist of invisible
// and text-direction characters. SVG icons are stripped of every construct
// that can execute script, load an external or data: resource, or exfiltrate
// through CSS, then size-checked. Regex stripping cannot prove an SVG safe;
// targets must still render icons in a sandboxed context (an <img> tag or a
// data URL), never inline into a live DOM.
package icon

import (
	"errors"
	"fmt"

	"github.com/token-beam/token-beam/pkg/protocol"
)

// Limits.
const (
	MaxUnicodeCodepoints = 3
	MaxSVGBytes          = 10 * 1024
)

var (
	ErrUnknownType   = errors.New("unknown icon type")
	ErrEmpty         = errors.New("icon is empty")
	ErrTooLong       = errors.New("unicode icon is too long")
	ErrForbiddenRune = errors.New("unicode icon contains a forbidden character")
	ErrNotSVG        = errors.New("svg icon must start with <svg")
	ErrTooLarge      = errors.New("svg icon is too large")
	ErrTooNested     = errors.New("svg icon nests stripped content too deeply")
)

// Sanitize returns a safe copy of in, or an error describing why the icon was
// rejected. A rejected icon is never partially returned.
func Sanitize(in protocol.Icon) (protocol.Icon, error) {
	switch in.Type {
	case protocol.IconUnicode:
		v, err := SanitizeUnicode(in.Value)
		if err != nil {
			return protocol.Icon{}, err
		}
		return protocol.Icon{Type: protocol.IconUnicode, Value: v}, nil
	case protocol.IconSVG:
		v, err := SanitizeSVG(in.Value)
		if err != nil {
			return protocol.Icon{}, err
		}
		return protocol.Icon{Type: protocol.IconSVG, Value: v}, nil
	default:
		return protocol.Icon{}, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
}
