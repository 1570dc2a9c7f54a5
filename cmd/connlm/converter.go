package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/config"
	"github.com/wantee/connlm-go/pkg/engine"
	"github.com/wantee/connlm-go/pkg/fst"
)

func newConverterCmd(gf *globalFlags) *cobra.Command {
	var (
		modelIn  string
		outFile  string
		maxGram  int
		method   string
		threshold float64
		numWorkers int
		cacheSize  int
		printSyms  bool
		bloomFile  string
		wordSymsFile  string
		stateSymsFile string
	)

	cmd := &cobra.Command{
		Use:   "converter",
		Short: "Convert a trained model to a weighted finite-state transducer",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := &config.CLIOverrides{
				MaxGram:             &maxGram,
				WordSelectionMethod: &method,
				Threshold:           &threshold,
				NumWorkers:          &numWorkers,
				CacheSize:           &cacheSize,
				PrintSyms:           &printSyms,
				BloomFilterFile:     &bloomFile,
				WordSymsFile:        &wordSymsFile,
				StateSymsFile:       &stateSymsFile,
			}
			cfg, err := resolveConfig(cmd, gf, extra)
			if err != nil {
				return err
			}
			if modelIn == "" || outFile == "" {
				return fmt.Errorf("--model and --out are required")
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
			scorer := engine.NewScorer(e)

			var bloom *fst.BloomFilter
			if cfg.Converter.BloomFilterFile != "" {
				bf, err := os.Open(cfg.Converter.BloomFilterFile)
				if err != nil {
					return fmt.Errorf("opening bloom filter %s: %w", cfg.Converter.BloomFilterFile, err)
				}
				bloom, err = fst.LoadBloomFilter(bf)
				bf.Close()
				if err != nil {
					return fmt.Errorf("loading bloom filter: %w", err)
				}
			}

			selMethod := fst.SelectBeamMethod
			if strings.EqualFold(cfg.Converter.WordSelectionMethod, "majority") {
				selMethod = fst.SelectMajorityMethod
			}

			opt := fst.Options{
				MaxGram:      cfg.Converter.MaxGram,
				NumWorkers:   cfg.Converter.NumWorkers,
				Method:       selMethod,
				Threshold:    cfg.Converter.Threshold,
				Bloom:        bloom,
				CacheSize:    cfg.Converter.CacheSize,
				PrintSymbols: cfg.Converter.PrintSyms,
			}
			conv := fst.NewConverter(scorer, opt)

			out, err := os.Create(outFile)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outFile, err)
			}
			defer out.Close()

			var symbols func(int) string
			if cfg.Converter.PrintSyms {
				symbols = m.Vocab.GetWord
			}
			w := fst.NewWriter(out, symbols)

			if err := conv.Convert(w); err != nil {
				return fmt.Errorf("converting: %w", err)
			}

			if cfg.Converter.WordSymsFile != "" {
				if err := writeSymsFile(cfg.Converter.WordSymsFile, m.Vocab.Words()); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "converted %s -> %s\n", modelIn, outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelIn, "model", "", "Path to the trained model")
	cmd.Flags().StringVar(&outFile, "out", "", "Path to write the FST text output")
	cmd.Flags().IntVar(&maxGram, "max-gram", 0, "Bound the expansion order (0 = unbounded)")
	cmd.Flags().StringVar(&method, "word-selection-method", "", "\"Beam\" or \"Majority\" (default keeps the config-resolved value)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Beam width (log-prob) or majority cumulative mass")
	cmd.Flags().IntVar(&numWorkers, "num-workers", 0, "Parallel state-expansion goroutines (0 keeps the config-resolved value)")
	cmd.Flags().IntVar(&cacheSize, "cache-size", 0, "Bound the hidden-state block cache (0 = unbounded)")
	cmd.Flags().BoolVar(&printSyms, "print-syms", false, "Emit symbol names instead of numeric ids")
	cmd.Flags().StringVar(&bloomFile, "bloom-filter-file", "", "Path to a precomputed bloom filter")
	cmd.Flags().StringVar(&wordSymsFile, "word-syms-file", "", "Path to write the word symbol table")
	cmd.Flags().StringVar(&stateSymsFile, "state-syms-file", "", "Path to write the state symbol table (unused: converter states are not separately named)")

	return cmd
}

// writeSymsFile writes one "word id" line per vocabulary entry using the
// same convention as fst.WriteSymbols.
func writeSymsFile(path string, words []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	return fst.WriteSymbols(f, words)
}
