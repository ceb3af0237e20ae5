package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/chainrad/internal/handlers"
)

func predictCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "predict [image...]",
		Short: "Classify images and print one JSON line per image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			preds, err := a.predictor.Predict(args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for i, p := range preds {
				if err := enc.Encode(handlers.Result{Image: args[i], Findings: p}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
