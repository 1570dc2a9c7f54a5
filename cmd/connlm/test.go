package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/engine"
)

// newTestCmd implements a lightweight smoke test: load a model, score a
// held-out file, and fail if perplexity exceeds --max-perplexity. It
// exists for CI/regression use, as a cheaper check than a full `eval`
// pass across a whole corpus.
func newTestCmd(gf *globalFlags) *cobra.Command {
	var (
		modelIn       string
		textFile      string
		maxPerplexity float64
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Smoke-test a model against a held-out file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, gf, nil); err != nil {
				return err
			}
			if modelIn == "" || textFile == "" {
				return fmt.Errorf("--model and --text are required")
			}

			m, err := loadModel(modelIn)
			if err != nil {
				return err
			}
			comp := m.ComponentByName(engine.ComponentName)
			if comp == nil {
				return fmt.Errorf("model %s has no %q component", modelIn, engine.ComponentName)
			}
			hidden := comp.LayerByName(engine.HiddenLayer)
			if hidden == nil {
				return fmt.Errorf("model %s's %q component has no %q layer", modelIn, engine.ComponentName, engine.HiddenLayer)
			}

			e, err := engine.New(m.Vocab, m.Tree, engine.Hyperparams{HiddenSize: hidden.Size})
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}
			if err := e.LoadWeights(m.Weights[engine.ComponentName]); err != nil {
				return fmt.Errorf("restoring checkpoint: %w", err)
			}

			f, err := openTextFile(textFile)
			if err != nil {
				return err
			}
			defer f.Close()

			var logp float64
			var words int
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				sent := tokenizeLine(m.Vocab, sc.Text())
				lp, err := e.ScoreSentence(sent, false)
				if err != nil {
					return fmt.Errorf("scoring: %w", err)
				}
				logp += lp
				words += len(sent)
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("reading %s: %w", textFile, err)
			}

			ppl := engine.Perplexity(logp, words)
			fmt.Fprintf(cmd.OutOrStdout(), "%d words, perplexity=%.4f\n", words, ppl)
			if maxPerplexity > 0 && ppl > maxPerplexity {
				return fmt.Errorf("perplexity %.4f exceeds --max-perplexity %.4f", ppl, maxPerplexity)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelIn, "model", "", "Path to the trained model")
	cmd.Flags().StringVar(&textFile, "text", "", "Path to the held-out text file")
	cmd.Flags().Float64Var(&maxPerplexity, "max-perplexity", 0, "Fail if perplexity exceeds this value (0 disables the check)")

	return cmd
}
