package main

import (
	"context"
	"github.com/assaka/daino/app"
	"github.com/spf13/cobra"
)

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema to the system and every tenant database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(flags, func(ctx context.Context, c *app.Container) error {
				if err := c.Migrate(ctx); err != nil {
					return err
				}
				c.Logger.Info("migrations applied")
				return nil
			})
		},
	}
}
