package main

import (
	"context"
	"fmt"
	"github.com/assaka/daino/app"
	"github.com/assaka/daino/types/config"
	"github.com/spf13/cobra"
	"os/signal"
	"syscall"
)

type globalFlags struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:          "daino",
		Short:        "Multi-tenant background job and cron engine",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file path (yaml, json or toml)")

	cmd.AddCommand(
		newServeCommand(flags),
		newWorkerCommand(flags),
		newTickCommand(flags),
		newSchedulerCommand(flags),
		newMigrateCommand(flags),
	)
	return cmd
}

// withContainer loads configuration, builds the container and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withContainer(flags *globalFlags, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			c.Logger.WithError(err).Warn("shutdown")
		}
	}()
	return fn(ctx, c)
}
