package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/chainrad/internal/featurestore"
)

func extractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Cache backbone outputs for images that do not have one yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := featurestore.Open(a.settings.Features.Dir)
			if err != nil {
				return err
			}
			n, err := featurestore.Export(a.predictor, store,
				a.settings.Features.ImageDir, a.settings.Features.BatchSize, a.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d outputs to %s\n", n, store.Dir())
			return nil
		},
	}
}
