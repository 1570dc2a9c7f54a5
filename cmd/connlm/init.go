package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/engine"
	"github.com/wantee/connlm-go/pkg/model"
	"github.com/wantee/connlm-go/pkg/tree"
)

func newInitCmd(gf *globalFlags) *cobra.Command {
	var (
		vocabFile  string
		outFile    string
		hiddenSize int
		seed       int64
		initScale  float64
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Build a fresh, randomly-initialized model from a vocabulary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, gf, nil); err != nil {
				return err
			}
			if vocabFile == "" || outFile == "" {
				return fmt.Errorf("--vocab and --out are required")
			}

			v, err := readVocabText(vocabFile)
			if err != nil {
				return err
			}
			tr := tree.NewFlat(v.Size())

			hp := engine.Hyperparams{HiddenSize: hiddenSize}
			m, err := engine.NewModel(v, tr, hp)
			if err != nil {
				return fmt.Errorf("building topology: %w", err)
			}

			e, err := engine.New(v, tr, hp)
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}
			e.InitRandom(newSeededRand(seed), initScale)
			m.Weights[engine.ComponentName] = e.ExportWeights()

			if err := saveModel(outFile, m, model.AllFilter(), false, false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized a %d-hidden-unit model over %d words -> %s\n", hiddenSize, v.Size(), outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&vocabFile, "vocab", "", "Path to a vocabulary text file (see `connlm vocab`)")
	cmd.Flags().StringVar(&outFile, "out", "", "Path to write the initialized model")
	cmd.Flags().IntVar(&hiddenSize, "hidden-size", 64, "Hidden layer width")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for weight initialization (0 derives from the current time)")
	cmd.Flags().Float64Var(&initScale, "init-scale", 0.1, "Half-width of the uniform weight initialization range")
	return cmd
}
