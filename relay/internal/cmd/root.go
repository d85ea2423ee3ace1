package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

const defaultConfigPath = "token-beam-relay.json"

// NewRootCmd creates the root cobra command for token-beam-relay.
// Without a subcommand it behaves as "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "token-beam-relay",
		Short: "Token Beam relay: pairs design-token sources with targets",
		Long:  "The relay hands out session tokens to sources and forwards validated token payloads between a source and the targets paired with it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newHashKeyCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file (.json, .yaml or .toml)")

	return root
}
