package main

import (
	"context"
	"fmt"
	"github.com/assaka/daino/app"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"time"
)

func newSchedulerCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the scheduler tick on the configured interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(flags, func(ctx context.Context, c *app.Container) error {
				if err := c.Bootstrap(ctx); err != nil {
					return err
				}
				return runTicker(ctx, c)
			})
		},
	}
}

// runTicker invokes the tick every scheduler.tick_interval until ctx is done.
// A tick still running when the next one is due is not overlapped.
func runTicker(ctx context.Context, c *app.Container) error {
	logger := cron.PrintfLogger(c.Logger)
	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	spec := fmt.Sprintf("@every %s", c.Config.Scheduler.TickInterval)
	if _, err := runner.AddFunc(spec, func() {
		if _, err := c.Scheduler.Tick(ctx, time.Now().UTC()); err != nil {
			c.Logger.WithError(err).Error("tick failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	c.Logger.WithField("interval", c.Config.Scheduler.TickInterval.String()).Info("scheduler started")
	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()
	c.Logger.Info("scheduler stopped")
	return nil
}
