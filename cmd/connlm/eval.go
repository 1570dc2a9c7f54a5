package main

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/config"
	"github.com/wantee/connlm-go/pkg/driver"
	"github.com/wantee/connlm-go/pkg/engine"
	"github.com/wantee/connlm-go/pkg/reader"
)

func newEvalCmd(gf *globalFlags) *cobra.Command {
	var (
		modelIn  string
		textFile string

		epochSize     int
		printSentProb bool
		outLogBase    string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score a text corpus against a trained model",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := &config.CLIOverrides{
				EpochSize:     &epochSize,
				PrintSentProb: &printSentProb,
				OutLogBase:    &outLogBase,
			}
			cfg, err := resolveConfig(cmd, gf, extra)
			if err != nil {
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
			hp := engine.Hyperparams{HiddenSize: hidden.Size}

			numWorker := cfg.General.NumThread
			if numWorker < 1 {
				numWorker = 1
			}

			// Eval is read-only, so each worker gets its own Engine built from
			// the same checkpoint rather than sharing one Engine's scratch
			// activation buffer across goroutines (see DESIGN.md's training-
			// concurrency-scope decision).
			enginePool := make(chan *engine.Engine, numWorker)
			for i := 0; i < numWorker; i++ {
				we, err := engine.New(m.Vocab, m.Tree, hp)
				if err != nil {
					return fmt.Errorf("building engine: %w", err)
				}
				if err := we.LoadWeights(m.Weights[engine.ComponentName]); err != nil {
					return fmt.Errorf("restoring checkpoint: %w", err)
				}
				enginePool <- we
			}

			logBase, err := parseLogBase(cfg.Eval.OutLogBase)
			if err != nil {
				return err
			}

			readerCfg := reader.Config{EpochSize: cfg.Train.EpochSize, DropEmptyLine: true}
			var cancelled atomic.Bool
			rd := reader.New(m.Vocab, readerCfg, numWorker, numWorker+1, &cancelled)

			f, err := openTextFile(textFile)
			if err != nil {
				return err
			}
			defer f.Close()

			runErrCh := make(chan error, 1)
			go func() { runErrCh <- rd.Run(f) }()

			var printMu sync.Mutex
			out := cmd.OutOrStdout()
			work := func(pool *reader.WordPool) (float64, int, error) {
				we := <-enginePool
				defer func() { enginePool <- we }()

				var logp float64
				var words int
				for _, sent := range pool.Sentences {
					lp, err := we.ScoreSentence(sent.Words, false)
					if err != nil {
						return 0, 0, err
					}
					if cfg.Eval.PrintSentProb {
						printMu.Lock()
						fmt.Fprintf(out, "%.6f\n", lp/logBase)
						printMu.Unlock()
					}
					logp += lp
					words += len(sent.Words)
				}
				return logp, words, nil
			}

			d := driver.New(driver.ModeEval, numWorker, rd, &cancelled, work)
			metrics, err := d.Run()
			if runErr := <-runErrCh; runErr != nil && err == nil {
				err = runErr
			}
			if err != nil {
				return fmt.Errorf("evaluating: %w", err)
			}

			fmt.Fprintf(out, "%d words, logProb=%.4f (base %s), entropy=%.4f bits/word, perplexity=%.4f\n",
				metrics.Words(), metrics.LogProb()/logBase, cfg.Eval.OutLogBase, metrics.Entropy(), metrics.Perplexity())
			return nil
		},
	}

	cmd.Flags().StringVar(&modelIn, "model", "", "Path to the trained model")
	cmd.Flags().StringVar(&textFile, "text", "", "Path to the text corpus to score")
	cmd.Flags().IntVar(&epochSize, "epoch-size", 0, "Sentences per reader pool (0 keeps the config-resolved value)")
	cmd.Flags().BoolVar(&printSentProb, "print-sent-prob", false, "Print each sentence's log-probability as it is scored")
	cmd.Flags().StringVar(&outLogBase, "out-log-base", "", "Log base for printed probabilities: \"e\" or a numeric base (default keeps the config-resolved value)")

	return cmd
}

// parseLogBase converts an OutLogBase config string ("e", "", or a numeric
// base like "10") into a divisor for natural-log values.
func parseLogBase(base string) (float64, error) {
	if base == "" || base == "e" {
		return 1, nil
	}
	b, err := strconv.ParseFloat(base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid out-log-base %q: %w", base, err)
	}
	if b <= 1 {
		return 0, fmt.Errorf("out-log-base must be > 1, got %v", b)
	}
	return math.Log(b), nil
}
