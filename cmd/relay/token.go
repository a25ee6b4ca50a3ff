package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/livetiming-relay/internal/auth"
)

func tokenCmd() *cobra.Command {
	var (
		identity auth.Identity
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a client token with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Chat.Enabled() {
				return fmt.Errorf("no JWT secret configured")
			}
			token, err := auth.SignToken(identity, cfg.Chat.JWTSecret, ttl)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity.ID, "id", "", "user id claim")
	cmd.Flags().StringVar(&identity.Username, "username", "", "display name")
	cmd.Flags().StringVar(&identity.Role, "role", "user", "role claim (admin enables /admin routes)")
	cmd.Flags().DurationVar(&identity.Cooldown, "cooldown", 0, "chat cooldown override")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
