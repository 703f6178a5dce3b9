package main

import (
	"context"
	"github.com/assaka/daino/app"
	"github.com/assaka/daino/engine"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var withWorker, withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, optionally with an embedded worker pool and scheduler",
		Long: `Serve the HTTP API, optionally with an embedded worker pool and scheduler.

The stock binary only registers plugin job types (plugins.endpoint and
plugins.types). The built-in catalog, translation, marketplace, credit and
OAuth types need store collaborators; programs embedding the engine pass
them with app.WithHandlerDeps and reuse these commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(flags, func(ctx context.Context, c *app.Container) error {
				if err := c.Bootstrap(ctx); err != nil {
					return err
				}

				var pool *engine.WorkerPool
				if withWorker {
					var err error
					if pool, err = c.WorkerPool(ctx, ""); err != nil {
						return err
					}
				}

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return c.Server().Serve(ctx, c.Config.HTTP.Addr)
				})
				if pool != nil {
					g.Go(func() error { return pool.Run(ctx) })
				}
				if withScheduler {
					g.Go(func() error { return runTicker(ctx, c) })
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", false, "also run a worker pool in this process")
	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "also run the scheduler tick in this process")
	return cmd
}
