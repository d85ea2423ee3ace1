// Package dashboard is the bubbletea UI behind `token-beam watch`.
package dashboard

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/token-beam/token-beam/beam/internal/tui"
	"github.com/token-beam/token-beam/pkg/client"
	"github.com/token-beam/token-beam/pkg/protocol"
)

// Panel identifies which dashboard panel is focused.
type Panel int

const (
	PanelTokens Panel = iota
	PanelLogs
)

// Model is the root dashboard model.
type Model struct {
	header headerModel
	peers  peersModel
	tokens tokensModel
	logs   logsModel
	help   helpModel

	activePanel Panel
	width       int
	height      int
	quitting    bool
}

// NewModel creates a dashboard for a client talking to relayURL.
func NewModel(relayURL, clientType string) Model {
	return Model{
		header: newHeader(relayURL, clientType),
		tokens: newTokens(),
		logs:   newLogs(),
	}
}

// EventMsg carries one client event into the UI.
type EventMsg struct {
	Event client.Event
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tokens.setHeight(m.tokensHeight())
		m.logs.SetSize(msg.Width-4, m.logsHeight())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+c", "q"))):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, key.NewBinding(key.WithKeys("tab"))):
			if m.activePanel == PanelTokens {
				m.activePanel = PanelLogs
			} else {
				m.activePanel = PanelTokens
			}
			return m, nil
		case key.Matches(msg, key.NewBinding(key.WithKeys("?"))):
			m.help.toggle()
			return m, nil
		}

	case EventMsg:
		m.apply(msg.Event)
		return m, nil
	}

	var cmd tea.Cmd
	switch m.activePanel {
	case PanelTokens:
		m.tokens, cmd = m.tokens.Update(msg)
	case PanelLogs:
		m.logs, cmd = m.logs.Update(msg)
	}
	return m, cmd
}

func (m *Model) apply(ev client.Event) {
	switch ev.Type {
	case client.EventState:
		m.header.state = ev.Current
	case client.EventPaired:
		m.header.token = ev.SessionToken
		if ev.Origin != "" {
			m.peers.add(client.Peer{ClientType: protocol.ClientTypeSource, Origin: ev.Origin, Icon: ev.Icon})
		}
	case client.EventPeerConnected:
		m.peers.add(client.Peer{ClientType: ev.ClientType, Origin: ev.Origin, Icon: ev.Icon})
	case client.EventPeerDisconnected:
		m.peers.remove(ev.ClientType)
	case client.EventDisconnected:
		m.peers.clear()
	case client.EventSync:
		m.header.syncs++
		m.tokens.update(ev.Payload)
	}
	m.logs.addEvent(ev)
}

func (m Model) View() string {
	if m.help.visible {
		return m.help.View()
	}

	tokStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tui.ColorMuted).
		Width(m.width - 2)
	logsStyle := tokStyle

	if m.activePanel == PanelTokens {
		tokStyle = tokStyle.BorderForeground(tui.ColorPrimary)
	} else {
		logsStyle = logsStyle.BorderForeground(tui.ColorPrimary)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header.View(m.width),
		m.peers.View(),
		tokStyle.Render(tui.Subtitle.Render(" Tokens")+"\n"+m.tokens.View()),
		logsStyle.Render(tui.Subtitle.Render(" Events")+"\n"+m.logs.View()),
		m.help.bar(),
	)
}

// Quitting reports whether the user quit.
func (m Model) Quitting() bool { return m.quitting }

func (m Model) tokensHeight() int {
	return max(3, (m.height-12)/2)
}

func (m Model) logsHeight() int {
	// header, peers line, two panel frames, help bar
	used := 5 + 1 + m.tokensHeight() + 3 + 3
	return max(5, m.height-used)
}
