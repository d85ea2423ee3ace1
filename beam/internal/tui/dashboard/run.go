package dashboard

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/token-beam/token-beam/pkg/client"
)

// Run connects c and shows the dashboard until the user quits or ctx ends.
// The client is disconnected on return.
func Run(ctx context.Context, c *client.Client, relayURL, clientType string) error {
	events, cancel := c.Subscribe()
	defer cancel()

	p := tea.NewProgram(NewModel(relayURL, clientType), tea.WithAltScreen())

	go func() {
		for ev := range events {
			p.Send(EventMsg{Event: ev})
		}
	}()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()

	// Dial failures are shown in the event log; the client keeps retrying.
	_ = c.Connect(ctx)
	defer c.Disconnect()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
