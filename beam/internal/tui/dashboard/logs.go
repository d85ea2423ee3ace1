package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/token-beam/token-beam/beam/internal/tui"
	"github.com/token-beam/token-beam/pkg/client"
)

const maxLogLines = 1000

type logsModel struct {
	viewport   viewport.Model
	lines      []string
	autoScroll bool
}

func newLogs() logsModel {
	return logsModel{
		viewport:   viewport.New(80, 10),
		autoScroll: true,
	}
}

func (l *logsModel) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
}

func (l *logsModel) addEvent(ev client.Event) {
	l.lines = append(l.lines, formatEvent(ev))
	if len(l.lines) > maxLogLines {
		l.lines = l.lines[len(l.lines)-maxLogLines:]
	}

	l.viewport.SetContent(strings.Join(l.lines, "\n"))
	if l.autoScroll {
		l.viewport.GotoBottom()
	}
}

// formatEvent renders one log line. The plain-text fallback of the watch
// command prints the same text without styles.
func formatEvent(ev client.Event) string {
	ts := ev.Time.Format("15:04:05")
	style := tui.Description
	switch ev.Type {
	case client.EventError:
		style = tui.ErrorStyle
	case client.EventWarning, client.EventPeerDisconnected, client.EventDisconnected:
		style = tui.WarningStyle
	case client.EventPaired, client.EventPeerConnected, client.EventSync:
		style = tui.Success
	}
	return fmt.Sprintf("  %s %s  %s", tui.Dimmed.Render(ts), style.Render(fmt.Sprintf("%-17s", ev.Type)), Describe(ev))
}

// Describe summarises an event in one line of plain text.
func Describe(ev client.Event) string {
	switch ev.Type {
	case client.EventState:
		return fmt.Sprintf("%s -> %s", ev.Previous, ev.Current)
	case client.EventPaired:
		return "session " + ev.SessionToken
	case client.EventPeerConnected:
		if ev.Origin != "" {
			return fmt.Sprintf("%s (%s)", ev.ClientType, ev.Origin)
		}
		return ev.ClientType
	case client.EventPeerDisconnected:
		return ev.Message
	case client.EventSync:
		return fmt.Sprintf("%d bytes", len(ev.Payload))
	case client.EventDisconnected:
		if ev.Err != nil {
			return ev.Err.Error()
		}
		return ""
	default:
		return ev.Message
	}
}

func (l logsModel) Update(msg tea.Msg) (logsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "G":
			l.autoScroll = true
			l.viewport.GotoBottom()
			return l, nil
		case "g":
			l.autoScroll = false
			l.viewport.GotoTop()
			return l, nil
		case "j", "down", "k", "up":
			l.autoScroll = false
		}
	}

	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return l, cmd
}

func (l logsModel) View() string {
	return l.viewport.View()
}
