package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/config"
	"github.com/wantee/connlm-go/pkg/driver"
	"github.com/wantee/connlm-go/pkg/engine"
)

func newGenCmd(gf *globalFlags) *cobra.Command {
	var (
		modelIn    string
		numSents   int
		maxLen     int
		prefixFile string
		randomSeed int64
	)

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Sample sentences from a trained model",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := &config.CLIOverrides{
				PrefixFile: &prefixFile,
				RandomSeed: &randomSeed,
			}
			cfg, err := resolveConfig(cmd, gf, extra)
			if err != nil {
				return err
			}
			if modelIn == "" {
				return fmt.Errorf("--model is required")
			}

			m, err := loadModel(modelIn)
			if err != nil {
				return err
			}
			comp := m.ComponentByName(engine.ComponentName)
			if comp == nil {
				return fmt.Errorf("model %s has no %q component", modelIn, engine.ComponentName)
			}
			if err := driver.ValidateNoLookahead(m.Components); err != nil {
				return fmt.Errorf("model cannot be sampled left-to-right: %w", err)
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

			prefixes, err := loadPrefixes(cfg.Gen.PrefixFile, numSents)
			if err != nil {
				return err
			}

			rng := newSeededRand(cfg.Gen.RandomSeed)
			out := cmd.OutOrStdout()
			for i := 0; i < numSents; i++ {
				var prefixWords []int
				if i < len(prefixes) {
					for _, f := range strings.Fields(prefixes[i]) {
						prefixWords = append(prefixWords, m.Vocab.GetID(f))
					}
				}
				words, err := e.GenerateSentence(prefixWords, maxLen, rng)
				if err != nil {
					return fmt.Errorf("generating sentence %d: %w", i, err)
				}
				toks := make([]string, len(words))
				for j, w := range words {
					toks[j] = m.Vocab.GetWord(w)
				}
				fmt.Fprintln(out, strings.Join(toks, " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelIn, "model", "", "Path to the trained model")
	cmd.Flags().IntVar(&numSents, "num-sents", 1, "Number of sentences to generate")
	cmd.Flags().IntVar(&maxLen, "max-len", 100, "Maximum words per generated sentence")
	cmd.Flags().StringVar(&prefixFile, "prefix-file", "", "File of per-sentence prefixes, one per line (reused if shorter than --num-sents)")
	cmd.Flags().Int64Var(&randomSeed, "random-seed", 0, "Sampler RNG seed (0 derives from the current time)")

	return cmd
}

// loadPrefixes reads one prefix per line from path. An empty path yields
// no prefixes, so every sentence starts unconditioned.
func loadPrefixes(path string, want int) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(lines) == 0 {
		return lines, nil
	}
	original := len(lines)
	for len(lines) < want {
		lines = append(lines, lines[len(lines)%original])
	}
	return lines, nil
}
