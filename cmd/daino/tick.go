package main

import (
	"context"
	"encoding/json"
	"github.com/assaka/daino/app"
	"github.com/spf13/cobra"
	"time"
)

// newTickCommand runs a single tick, for platform schedulers (cron, k8s
// CronJob, serverless timers) that start a process per run.
func newTickCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Fire every due schedule once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(flags, func(ctx context.Context, c *app.Container) error {
				report, err := c.Scheduler.Tick(ctx, time.Now().UTC())
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
				return err
			})
		},
	}
}
