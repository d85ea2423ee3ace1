package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/token-beam/token-beam/beam/internal/tui/dashboard"
	"github.com/token-beam/token-beam/pkg/client"
	"github.com/token-beam/token-beam/pkg/protocol"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <session-token>",
		Short: "Join a session as a target and show peers, tokens and events live",
		Long:  "watch opens a dashboard when stdout is a terminal and prints one line per event otherwise.",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	cmd.Flags().String("client-type", defaultTargetType, "target name announced to the source")
	cmd.Flags().Bool("plain", false, "print events as lines even on a terminal")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	token, ok := protocol.NormalizeToken(args[0])
	if !ok {
		return client.ErrInvalidTokenFormat
	}
	clientType, _ := cmd.Flags().GetString("client-type")
	plain, _ := cmd.Flags().GetBool("plain")
	url, _ := cmd.Flags().GetString("url")

	c, _, err := newClient(cmd, client.Options{ClientType: clientType, SessionToken: token})
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if !plain && isTerminal(cmd) {
		return dashboard.Run(ctx, c, url, clientType)
	}

	events, cancel := c.Subscribe()
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		c.Disconnect()
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Disconnect()

	p := newPrinter(cmd)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.Out("%s %-17s %s", ev.Time.Format("15:04:05"), ev.Type, dashboard.Describe(ev))
			if ev.Type == client.EventError {
				return fmt.Errorf("relay: %s", ev.Message)
			}
		}
	}
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
