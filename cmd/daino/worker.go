package main

import (
	"context"
	"github.com/assaka/daino/app"
	"github.com/spf13/cobra"
)

func newWorkerCommand(flags *globalFlags) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker pool that claims and executes queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(flags, func(ctx context.Context, c *app.Container) error {
				pool, err := c.WorkerPool(ctx, tenantID)
				if err != nil {
					return err
				}
				c.Logger.WithField("tenant_id", tenantID).Info("worker pool started")
				return pool.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "serve a single tenant, sized by its plan")
	return cmd
}
