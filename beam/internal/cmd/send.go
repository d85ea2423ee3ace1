package cmd

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/token-beam/token-beam/beam/internal/payload"
	"github.com/token-beam/token-beam/beam/internal/tui"
	"github.com/token-beam/token-beam/pkg/client"
	"github.com/token-beam/token-beam/pkg/protocol"
)

const defaultOrigin = "token-beam CLI"

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Offer a token file as a source and sync it to every target that pairs",
		Long: "send opens a session as the source, prints its session token and syncs the payload " +
			"to each target as it joins. With --watch the file is re-read and resynced on every save.",
		Args: cobra.ExactArgs(1),
		RunE: runSend,
	}
	cmd.Flags().String("token", "", "rejoin an existing session instead of starting a new one")
	cmd.Flags().String("origin", defaultOrigin, "name shown to targets")
	cmd.Flags().String("icon", "", "single glyph shown to targets next to the origin")
	cmd.Flags().Bool("watch", false, "resync whenever the file changes")
	cmd.Flags().Duration("debounce", payload.DefaultDebounce, "quiet period before a changed file is resynced")
	cmd.Flags().Bool("once", false, "exit after the first target has received the payload")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := payload.Load(path)
	if err != nil {
		return err
	}

	token, _ := cmd.Flags().GetString("token")
	origin, _ := cmd.Flags().GetString("origin")
	glyph, _ := cmd.Flags().GetString("icon")
	watch, _ := cmd.Flags().GetBool("watch")
	debounce, _ := cmd.Flags().GetDuration("debounce")
	once, _ := cmd.Flags().GetBool("once")

	opts := client.Options{
		ClientType:   protocol.ClientTypeSource,
		SessionToken: token,
		Origin:       origin,
	}
	if glyph != "" {
		opts.Icon = &protocol.Icon{Type: protocol.IconUnicode, Value: glyph}
	}
	c, logger, err := newClient(cmd, opts)
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
	var (
		mu      sync.Mutex
		current = raw
	)
	load := func() json.RawMessage {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	if watch {
		go func() {
			err := payload.Watch(ctx, path, debounce, logger, func(next json.RawMessage, err error) {
				if err != nil {
					p.Err("%s", tui.WarningStyle.Render("not resyncing: "+err.Error()))
					return
				}
				mu.Lock()
				current = next
				mu.Unlock()
				if !c.Paired() || len(c.Peers()) == 0 {
					return
				}
				if err := c.Sync(next); err != nil {
					p.Err("resync failed: %v", err)
					return
				}
				p.Out("%s resynced %s", tui.Dimmed.Render(time.Now().Format("15:04:05")), path)
			})
			if err != nil {
				p.Err("watch stopped: %v", err)
			}
		}()
	}

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
				p.Out("%s\n%s", tui.TokenBox.Render(ev.SessionToken),
					tui.Description.Render("Enter this token in the target tool to receive "+path))
			case client.EventPeerConnected:
				name := ev.ClientType
				if ev.Origin != "" {
					name += " (" + ev.Origin + ")"
				}
				if err := c.Sync(load()); err != nil {
					p.Err("sync to %s failed: %v", name, err)
					continue
				}
				p.Out("%s sent to %s", tui.Success.Render("✓"), name)
				if once {
					return nil
				}
			case client.EventPeerDisconnected:
				p.Out("%s", tui.Dimmed.Render(ev.Message))
			case client.EventWarning:
				p.Err("%s", tui.WarningStyle.Render(ev.Message))
			case client.EventError:
				if !watch {
					return fmt.Errorf("relay: %s", ev.Message)
				}
				p.Err("%s", tui.ErrorStyle.Render(ev.Message))
			}
		}
	}
}
