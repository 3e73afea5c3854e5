package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storybook/internal/middleware"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		subject string
		locale  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			token, err := middleware.SignJWT(cfg.JWTSecret, subject, locale, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Owner id carried by the token")
	cmd.Flags().StringVar(&locale, "locale", "", "Default story language for the owner")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
