package dashboard

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/token-beam/token-beam/beam/internal/tui"
	"github.com/token-beam/token-beam/pkg/client"
)

type headerModel struct {
	url        string
	clientType string
	state      client.State
	token      string
	syncs      int
}

func newHeader(url, clientType string) headerModel {
	return headerModel{url: url, clientType: clientType, state: client.StateIdle}
}

func (h headerModel) View(width int) string {
	left := tui.Title.Render("Token Beam")
	right := fmt.Sprintf("%s  %s %s", h.url, tui.StateDot(h.state), tui.StateText(h.state))

	token := h.token
	if token == "" {
		token = "-"
	}
	info := fmt.Sprintf("  Session: %s   Client: %s   Syncs: %d", token, h.clientType, h.syncs)

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tui.ColorPrimary).
		Width(max(width-2, 0)).
		Padding(0, 1)

	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right)-6, 1)
	row := lipgloss.JoinHorizontal(lipgloss.Top,
		left,
		lipgloss.NewStyle().Width(gap).Render(""),
		right,
	)
	return style.Render(row + "\n" + tui.Description.Render(info))
}
