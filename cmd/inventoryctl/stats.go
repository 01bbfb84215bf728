package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var listProducts bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print product and movement counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			store, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeWith(&err, store, "inventory")

			products, movements, err := store.Counts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "products: %d\nmovements: %d\n", products, movements)
			if !listProducts {
				return nil
			}

			rows, err := store.Products(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tQUANTITY")
			for _, p := range rows {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", p.ID, p.Name, p.Quantity)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&listProducts, "products", false, "Also list every product with its quantity")
	return cmd
}
