package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/token-beam/token-beam/relay/internal/auth"
	"github.com/token-beam/token-beam/relay/internal/config"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [config-file]",
		Short: "Issue an admin API token signed with the configured JWT secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			if cfg.Admin.Provider != "jwt" {
				return fmt.Errorf("admin.provider is %q; tokens can only be issued for \"jwt\"", cfg.Admin.Provider)
			}
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			tok, err := auth.NewJWTProvider(cfg.Admin.JWTSecret).IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("subject", "admin", "token subject")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [api-key]",
		Short: "Hash an admin API key for admin.api_key_hash, generating one if omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var key string
			if len(args) > 0 {
				key = args[0]
			} else {
				var err error
				if key, err = config.GenerateRandomSecret(); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "key:  %s\n", key)
			}
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "hash: %s\n", hash)
			return nil
		},
	}
}
