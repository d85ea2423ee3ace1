package dashboard

import (
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/token-beam/token-beam/beam/internal/tui"
	"github.com/token-beam/token-beam/pkg/tokens"
)

type tokensModel struct {
	items  []tokens.Path
	offset int
	rows   int
}

func newTokens() tokensModel {
	return tokensModel{rows: 10}
}

func (t *tokensModel) setHeight(rows int) {
	t.rows = rows
	t.clamp()
}

// update replaces the table with the tokens of a sync payload. Payloads that
// fail to parse leave the previous table in place.
func (t *tokensModel) update(raw json.RawMessage) {
	p, err := tokens.Parse(raw)
	if err != nil {
		return
	}
	t.items = tokens.Flatten(p)
	t.clamp()
}

func (t *tokensModel) clamp() {
	t.offset = min(t.offset, max(0, len(t.items)-t.rows))
}

func (t tokensModel) Update(msg tea.Msg) (tokensModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "j", "down":
			t.offset++
		case "k", "up":
			t.offset = max(0, t.offset-1)
		case "G":
			t.offset = len(t.items)
		case "g":
			t.offset = 0
		}
		t.clamp()
	}
	return t, nil
}

func (t tokensModel) View() string {
	if len(t.items) == 0 {
		return tui.Dimmed.Render("  Waiting for the first sync")
	}

	nameWidth := 0
	for _, p := range t.items {
		nameWidth = max(nameWidth, len(pathName(p)))
	}
	nameStyle := lipgloss.NewStyle().Foreground(tui.ColorText).Width(nameWidth + 2)
	typeStyle := lipgloss.NewStyle().Foreground(tui.ColorSubtle).Width(9)

	end := min(len(t.items), t.offset+t.rows)
	var sb strings.Builder
	for _, p := range t.items[t.offset:end] {
		sb.WriteString("  " + nameStyle.Render(pathName(p)) + typeStyle.Render(string(p.Token.Type)) + tui.FormatToken(p) + "\n")
	}
	if len(t.items) > t.rows {
		sb.WriteString(tui.Dimmed.Render(fmt.Sprintf("  %d-%d of %d", t.offset+1, end, len(t.items))))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func pathName(p tokens.Path) string {
	return p.Collection + "/" + p.Mode + "/" + p.Token.Name
}
