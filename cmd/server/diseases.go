package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/chainrad/internal/model"
)

func diseasesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diseases",
		Short: "List admitted and skipped diseases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tNAME\tTHRESHOLD\tSTATUS")
			for _, adm := range a.session.Admissions() {
				code := "-"
				if f, ok := model.LookupFinding(adm.DiseaseID()).Get(); ok {
					code = f.Code
				}
				switch v := adm.(type) {
				case model.Admitted:
					fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\n", v.Definition.ID, code, v.Definition.Name, v.Definition.Threshold, v.ArtifactPath)
				case model.Skipped:
					fmt.Fprintf(w, "%s\t%s\t-\t-\tskipped: %s\n", v.ID, code, v.Reason)
				}
			}
			return w.Flush()
		},
	}
}
