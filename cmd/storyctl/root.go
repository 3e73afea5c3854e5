package main

import (
	"errors"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"storybook/internal/bootstrap"
	"storybook/internal/infra"
)

type commandContext struct {
	envFile *string

	once   sync.Once
	config *infra.Config
	err    error
}

func (c *commandContext) ensureConfig() (*infra.Config, error) {
	c.once.Do(func() {
		if c.envFile != nil && *c.envFile != "" {
			if err := godotenv.Load(*c.envFile); err != nil {
				c.err = err
				return
			}
		} else {
			_ = godotenv.Load()
		}
		c.config, c.err = infra.LoadConfig()
	})
	return c.config, c.err
}

// withJobs opens only the job store; storyctl never starts the pipeline.
func (c *commandContext) withJobs(cmd *cobra.Command, fn func(rt *bootstrap.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger := infra.NewLogger("cli").With().Str("cmd", cmd.CommandPath()).Logger()
	rt, err := bootstrap.OpenJobs(cmd.Context(), cfg, &logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

var errNeedsPostgres = errors.New("credentials are kept in postgres; set STORE_DRIVER=postgres")

func newRootCommand() *cobra.Command {
	var envFile string
	ctx := &commandContext{envFile: &envFile}

	rootCmd := &cobra.Command{
		Use:           "storyctl",
		Short:         "Operate the storybook service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of ./.env")

	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newSweepCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newCredentialsCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))

	return rootCmd
}
