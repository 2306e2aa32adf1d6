package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/leeforge/imageresize/media/category"
	"github.com/leeforge/imageresize/media/size"
	"github.com/spf13/cobra"
)

func newSizesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sizes",
		Short: "Print every category with its resolved size tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			registry, err := category.NewRegistry(cfg.Categories, size.FromConfig(cfg.Sizes, logger))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tTAG\tBOUND\tMODE")
			for _, cat := range registry.All() {
				for _, spec := range cat.Sizes {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", cat.Name, spec.Tag, spec.Dimension, spec.Mode)
				}
			}
			return tw.Flush()
		},
	}
}
