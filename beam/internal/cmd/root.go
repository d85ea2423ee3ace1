package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/token-beam/token-beam/pkg/client"
)

var version = "dev"

// envURL overrides the default relay URL.
const envURL = "TOKEN_BEAM_URL"

// NewRootCmd creates the root cobra command for token-beam.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "token-beam",
		Short:         "Beam design tokens between tools through a Token Beam relay",
		Long:          "token-beam pairs with a relay as a source (send) or a target (listen, watch) and moves design-token payloads between them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := client.DefaultURL
	if u := os.Getenv(envURL); u != "" {
		defaultURL = u
	}

	root.PersistentFlags().String("url", defaultURL, "relay WebSocket URL (env "+envURL+")")
	root.PersistentFlags().BoolP("verbose", "v", false, "log client activity to stderr")

	root.AddCommand(newSendCmd())
	root.AddCommand(newListenCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newVersionCmd())

	return root
}
