// Package tui holds the palette and styles shared by the beam CLI output and
// its watch dashboard.
package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/token-beam/token-beam/pkg/client"
	"github.com/token-beam/token-beam/pkg/tokens"
)

var (
	ColorPrimary   = lipgloss.Color("#0EA5E9") // sky
	ColorSecondary = lipgloss.Color("#6366F1") // indigo
	ColorAccent    = lipgloss.Color("#F59E0B") // amber

	ColorSuccess = lipgloss.Color("#10B981")
	ColorWarning = lipgloss.Color("#F59E0B")
	ColorError   = lipgloss.Color("#EF4444")
	ColorMuted   = lipgloss.Color("#6B7280")
	ColorText    = lipgloss.Color("#E5E7EB")
	ColorSubtle  = lipgloss.Color("#9CA3AF")
)

var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)

	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	Description = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	Dimmed = lipgloss.NewStyle().
		Foreground(ColorMuted)

	Success = lipgloss.NewStyle().
		Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	Help = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// TokenBox frames the session token a source hands to its targets.
	TokenBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Foreground(ColorText).
			Bold(true).
			Padding(0, 2).
			Align(lipgloss.Center)
)

// StateDot returns a colored dot for a client state.
func StateDot(s client.State) string {
	return stateStyle(s).Render("●")
}

// StateText returns the colored state label.
func StateText(s client.State) string {
	return stateStyle(s).Render(string(s))
}

func stateStyle(s client.State) lipgloss.Style {
	switch s {
	case client.StatePaired:
		return Success
	case client.StateConnected, client.StateConnecting:
		return WarningStyle
	case client.StateError, client.StateDisconnected:
		return ErrorStyle
	default:
		return Dimmed
	}
}

// Swatch renders a two-cell block filled with a hex color. The alpha channel
// of #RGBA and #RRGGBBAA values is dropped. Non-colors render as blanks.
func Swatch(hex string) string {
	if !tokens.IsHexColor(hex) {
		return "  "
	}
	h := strings.TrimPrefix(hex, "#")
	switch len(h) {
	case 3, 4:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 8:
		h = h[:6]
	}
	return lipgloss.NewStyle().Background(lipgloss.Color("#" + h)).Render("  ")
}

// FormatToken renders one token row value: a swatch for colors, the raw value
// otherwise.
func FormatToken(p tokens.Path) string {
	if p.Token.Type == tokens.TypeColor {
		if s, ok := p.Token.Value.(string); ok {
			return Swatch(s) + " " + s
		}
	}
	return Description.Render(formatValue(p.Token.Value))
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
