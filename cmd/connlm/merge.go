package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/model"
)

func newMergeCmd(gf *globalFlags) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "merge <model1> <model2> [model3...]",
		Short: "Merge two or more component-disjoint models sharing one vocabulary/tree",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, gf, nil); err != nil {
				return err
			}
			if outFile == "" {
				return fmt.Errorf("--out is required")
			}

			models := make([]*model.Model, 0, len(args))
			for _, path := range args {
				m, err := loadModel(path)
				if err != nil {
					return err
				}
				models = append(models, m)
			}

			merged, err := model.Merge(models)
			if err != nil {
				return fmt.Errorf("merging models: %w", err)
			}
			if err := saveModel(outFile, merged, model.AllFilter(), false, false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d models (%d components) -> %s\n", len(args), len(merged.Components), outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&outFile, "out", "", "Path to write the merged model")
	return cmd
}
