package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storybook/internal/bootstrap"
	"storybook/internal/infra/credentials"
)

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	credsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored provider API keys",
	}
	credsCmd.AddCommand(newCredentialsSetCommand(ctx))
	credsCmd.AddCommand(newCredentialsListCommand(ctx))
	return credsCmd
}

func newCredentialsSetCommand(ctx *commandContext) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:       "set <provider>",
		Short:     "Store the API key for gemini or openai",
		Args:      cobra.ExactArgs(1),
		ValidArgs: credentials.Providers,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(strings.TrimSpace(args[0]))
			if strings.TrimSpace(key) == "" {
				key = os.Getenv(strings.ToUpper(provider) + "_API_KEY")
			}
			return ctx.withJobs(cmd, func(rt *bootstrap.Runtime) error {
				if rt.Credentials == nil {
					return errNeedsPostgres
				}
				if err := rt.Credentials.Set(cmd.Context(), provider, key); err != nil {
					return fmt.Errorf("store %s api key: %w", provider, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s API key stored\n", strings.ToUpper(provider))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "API key (defaults to <PROVIDER>_API_KEY)")
	return cmd
}

func newCredentialsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(rt *bootstrap.Runtime) error {
				if rt.Credentials == nil {
					return errNeedsPostgres
				}
				entries, err := rt.Credentials.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stored keys")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{e.Provider, e.UpdatedAt.Format(time.RFC3339)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Provider", "Updated"}, rows, nil))
				return nil
			})
		},
	}
}
