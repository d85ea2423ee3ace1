package dashboard

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/token-beam/token-beam/beam/internal/tui"
)

type helpModel struct {
	visible bool
}

func (h *helpModel) toggle() {
	h.visible = !h.visible
}

func (h helpModel) bar() string {
	return tui.Help.Render("  q quit  Tab switch  j/k scroll  G bottom  ? help")
}

func (h helpModel) View() string {
	binds := []struct {
		key  string
		desc string
	}{
		{"q / Ctrl+C", "Quit and leave the session"},
		{"Tab", "Switch between Tokens and Events"},
		{"j / Down", "Scroll down"},
		{"k / Up", "Scroll up"},
		{"G", "Jump to bottom"},
		{"g", "Jump to top"},
		{"?", "Toggle this help"},
	}

	keyStyle := lipgloss.NewStyle().
		Foreground(tui.ColorAccent).
		Bold(true).
		Width(14)
	descStyle := lipgloss.NewStyle().Foreground(tui.ColorText)

	s := tui.Title.Render("Keyboard Shortcuts") + "\n\n"
	for _, b := range binds {
		s += "  " + keyStyle.Render(b.key) + descStyle.Render(b.desc) + "\n"
	}
	s += "\n" + tui.Help.Render("  Press ? to close")

	return lipgloss.NewStyle().Padding(1, 2).Render(s)
}
