package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/token-beam/token-beam/beam/internal/payload"
	"github.com/token-beam/token-beam/beam/internal/tui"
	"github.com/token-beam/token-beam/pkg/client"
	"github.com/token-beam/token-beam/pkg/protocol"
)

const defaultTargetType = "cli"

func newListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen <session-token>",
		Short: "Join a session as a target and write every received payload",
		Args:  cobra.ExactArgs(1),
		RunE:  runListen,
	}
	cmd.Flags().String("client-type", defaultTargetType, "target name announced to the source")
	cmd.Flags().StringP("format", "f", "json", "output format: json, yaml or flat")
	cmd.Flags().StringP("out", "o", "", "write payloads to this file instead of stdout")
	cmd.Flags().Bool("once", false, "exit after the first payload")
	return cmd
}

func runListen(cmd *cobra.Command, args []string) error {
	token, ok := protocol.NormalizeToken(args[0])
	if !ok {
		return client.ErrInvalidTokenFormat
	}
	clientType, _ := cmd.Flags().GetString("client-type")
	format, _ := cmd.Flags().GetString("format")
	outPath, _ := cmd.Flags().GetString("out")
	once, _ := cmd.Flags().GetBool("once")

	switch format {
	case "json", "yaml", "flat":
	default:
		return fmt.Errorf("unknown format %q (want json, yaml or flat)", format)
	}
	if protocol.IsSourceType(clientType) {
		return fmt.Errorf("client type %q is reserved for sources", clientType)
	}

	c, _, err := newClient(cmd, client.Options{ClientType: clientType, SessionToken: token})
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

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
			switch ev.Type {
			case client.EventPaired:
				from := "source"
				if ev.Origin != "" {
					from = ev.Origin
				}
				p.Err("%s paired with %s", tui.Success.Render("✓"), from)
			case client.EventSync:
				data, err := payload.Encode(ev.Payload, format)
				if err != nil {
					p.Err("skipping payload: %v", err)
					continue
				}
				if outPath != "" {
					if err := os.WriteFile(outPath, data, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", outPath, err)
					}
					p.Err("wrote %s", outPath)
				} else {
					p.Write(data)
				}
				if once {
					return nil
				}
			case client.EventPeerDisconnected:
				p.Err("%s", tui.Dimmed.Render(ev.Message+", waiting for it to return"))
			case client.EventWarning:
				p.Err("%s", tui.WarningStyle.Render(ev.Message))
			case client.EventError:
				return fmt.Errorf("relay: %s", ev.Message)
			}
		}
	}
}
