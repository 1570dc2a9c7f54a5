package main

import (
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/config"
	"github.com/wantee/connlm-go/pkg/driver"
	"github.com/wantee/connlm-go/pkg/engine"
	"github.com/wantee/connlm-go/pkg/model"
	"github.com/wantee/connlm-go/pkg/reader"
)

func newTrainCmd(gf *globalFlags) *cobra.Command {
	var (
		modelIn  string
		modelOut string
		textFile string

		lr        float64
		l2        float64
		momentum  float64
		miniBatch int
		syncSize  int
		l2Gap     int
		bptt      int
		bpttDelay int
		erCutoff  float64

		epochSize    int
		shuffle      bool
		randomSeed   int64
		dryRun       bool
		resegment    int
		dropEmptyLn  bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model's weights against a text corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := &config.CLIOverrides{
				EpochSize:  &epochSize,
				Shuffle:    &shuffle,
				RandomSeed: &randomSeed,
				DryRun:     &dryRun,
			}
			cfg, err := resolveConfig(cmd, gf, extra)
			if err != nil {
				return err
			}
			if modelIn == "" || textFile == "" {
				return fmt.Errorf("--model and --text are required")
			}
			if modelOut == "" {
				modelOut = modelIn
			}

			m, err := loadModel(modelIn)
			if err != nil {
				return err
			}
			comp := m.ComponentByName(engine.ComponentName)
			if comp == nil {
				return fmt.Errorf("model %s has no %q component; build it with `connlm init`", modelIn, engine.ComponentName)
			}
			hidden := comp.LayerByName(engine.HiddenLayer)
			if hidden == nil {
				return fmt.Errorf("model %s's %q component has no %q layer", modelIn, engine.ComponentName, engine.HiddenLayer)
			}

			hp := engine.Hyperparams{
				HiddenSize: hidden.Size,
				LR:         lr, L2: l2, Momentum: momentum,
				MiniBatch: miniBatch, SyncSize: syncSize, L2Gap: l2Gap,
				BPTT: bptt, BPTTDelay: bpttDelay, ErCutoff: erCutoff,
			}
			e, err := engine.New(m.Vocab, m.Tree, hp)
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}
			if err := e.LoadWeights(m.Weights[engine.ComponentName]); err != nil {
				return fmt.Errorf("restoring checkpoint: %w", err)
			}

			readerCfg := reader.Config{
				EpochSize:     cfg.Train.EpochSize,
				Shuffle:       cfg.Train.Shuffle,
				MiniBatch:     miniBatch,
				DropEmptyLine: dropEmptyLn,
				RandSeed:      cfg.Train.RandomSeed,
				ResegmentLong: resegment,
			}
			const numWorker = 1 // see DESIGN.md: training is single-threaded by design
			var cancelled atomic.Bool
			rd := reader.New(m.Vocab, readerCfg, numWorker, numWorker+1, &cancelled)

			f, err := openTextFile(textFile)
			if err != nil {
				return err
			}
			defer f.Close()

			runErrCh := make(chan error, 1)
			go func() { runErrCh <- rd.Run(f) }()

			train := !cfg.Train.DryRun
			work := func(pool *reader.WordPool) (float64, int, error) {
				var logp float64
				var words int
				for _, sent := range pool.Sentences {
					lp, err := e.ScoreSentence(sent.Words, train)
					if err != nil {
						return 0, 0, err
					}
					logp += lp
					words += len(sent.Words)
				}
				return logp, words, nil
			}

			d := driver.New(driver.ModeTrain, numWorker, rd, &cancelled, work)
			metrics, err := d.Run()
			if runErr := <-runErrCh; runErr != nil && err == nil {
				err = runErr
			}
			if err != nil {
				return fmt.Errorf("training: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "trained on %d words, entropy=%.4f bits/word, perplexity=%.4f\n",
				metrics.Words(), metrics.Entropy(), metrics.Perplexity())

			if cfg.Train.DryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "dry run: model not updated")
				return nil
			}
			m.Weights[engine.ComponentName] = e.ExportWeights()
			return saveModel(modelOut, m, model.AllFilter(), false, false)
		},
	}

	cmd.Flags().StringVar(&modelIn, "model", "", "Path to the model to train (from `connlm init`)")
	cmd.Flags().StringVar(&modelOut, "out", "", "Path to write the trained model (defaults to --model)")
	cmd.Flags().StringVar(&textFile, "text", "", "Path to the training text corpus")

	cmd.Flags().Float64Var(&lr, "lr", 0.1, "Learning rate")
	cmd.Flags().Float64Var(&l2, "l2", 0, "L2 weight decay")
	cmd.Flags().Float64Var(&momentum, "momentum", 0, "Momentum")
	cmd.Flags().IntVar(&miniBatch, "minibatch", 1, "Mini-batch size (advisory)")
	cmd.Flags().IntVar(&syncSize, "sync-size", 0, "Shared-copy sync interval (0 disables)")
	cmd.Flags().IntVar(&l2Gap, "l2-gap", 1, "Apply L2 decay every this many steps")
	cmd.Flags().IntVar(&bptt, "bptt", 4, "Truncated-BPTT unroll depth")
	cmd.Flags().IntVar(&bpttDelay, "bptt-delay", 0, "Steps between BPTT unrolls")
	cmd.Flags().Float64Var(&erCutoff, "er-cutoff", 15, "Gradient clipping cutoff")

	cmd.Flags().IntVar(&epochSize, "epoch-size", 0, "Sentences per reader pool (0 keeps the config-resolved value)")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "Shuffle sentence order within each pool")
	cmd.Flags().Int64Var(&randomSeed, "random-seed", 0, "Shuffle RNG seed (0 derives from the current time)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the run without updating weights or writing a model")
	cmd.Flags().IntVar(&resegment, "resegment-long", 0, "Re-split lines longer than this many words (0 disables)")
	cmd.Flags().BoolVar(&dropEmptyLn, "drop-empty-lines", true, "Skip lines that tokenize to zero words")

	return cmd
}
