package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"inventory-agent/internal/repository"
)

func newSeedCmd(opts *globalOptions) *cobra.Command {
	var fixturePath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Replace the inventory with sample data",
		Long: `Drops every product and movement and loads a fixture.

Without --fixture the built-in sample is used: ABC (120), XYZ (45) and
DEF (200), each with one movement per day for the last week.

Fixture format (YAML):
  products:
    - name: ABC
      quantity: 120
      movements:
        - change: -5
          days_ago: 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			fixture := repository.DefaultFixture()
			if fixturePath != "" {
				raw, err := os.ReadFile(fixturePath)
				if err != nil {
					return fmt.Errorf("read fixture: %w", err)
				}
				if fixture, err = repository.ParseFixture(raw); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeWith(&err, store, "inventory")

			if err := store.Seed(ctx, fixture, time.Now()); err != nil {
				return err
			}
			opts.log.Info("inventory seeded", "db", opts.dbPath, "products", len(fixture.Products))
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products into %s\n", len(fixture.Products), opts.dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "YAML fixture to load instead of the built-in sample")
	return cmd
}
