// Command connlm is the connLM toolkit's CLI: vocabulary building, model
// initialization, training, evaluation, text generation, model merging,
// WFST conversion, and an optional MCP serving front-end.
//
// Configuration resolves through the same four-level hierarchy the
// teacher's server binary uses (defaults -> YAML -> CONNLM_* environment
// variables -> explicit CLI flags), via pkg/config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wantee/connlm-go/pkg/config"
)

// globalFlags carries the persistent, root-level flags every subcommand
// can see, mirroring the teacher's CLIOverrides-on-the-root pattern.
type globalFlags struct {
	configPath *string
	overrides  config.CLIOverrides
}

func main() {
	var gf globalFlags

	rootCmd := &cobra.Command{
		Use:           "connlm",
		Short:         "connlm - a connectionist language-modeling toolkit",
		Long:          "Build vocabularies, train and evaluate recurrent language models, sample text, and convert trained models to weighted finite-state transducers.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	f := rootCmd.PersistentFlags()
	gf.configPath = f.String("config", "", "Path to YAML config file (overrides CONNLM_CONFIG env)")
	gf.overrides.NumThread = f.Int("num-thread", 0, "Number of driver worker goroutines")
	gf.overrides.DebugFile = f.String("debug-file", "", "Write verbose per-word driver output to this file")
	gf.overrides.Binary = f.Bool("binary", false, "Accepted for compatibility; model files are always read and written in the binary format")

	rootCmd.AddCommand(
		newVocabCmd(&gf),
		newInitCmd(&gf),
		newTrainCmd(&gf),
		newEvalCmd(&gf),
		newGenCmd(&gf),
		newMergeCmd(&gf),
		newConverterCmd(&gf),
		newTestCmd(&gf),
		newBLASInfoCmd(&gf),
		newServeMCPCmd(&gf),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig implements the full hierarchy for one subcommand
// invocation: defaults -> YAML -> env vars -> only-explicitly-set CLI
// flags, then validates the result.
func resolveConfig(cmd *cobra.Command, gf *globalFlags, extra *config.CLIOverrides) (*config.Config, error) {
	configPath := ""
	if gf.configPath != nil && *gf.configPath != "" {
		configPath = *gf.configPath
	} else {
		configPath = os.Getenv("CONNLM_CONFIG")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	applyChanged(cmd.Flags(), cfg, &gf.overrides)
	if extra != nil {
		applyChanged(cmd.Flags(), cfg, extra)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyChanged copies only the CLI override fields whose backing flag was
// explicitly set by the user, so unset flags never clobber values
// resolved from YAML or the environment.
func applyChanged(flags *pflag.FlagSet, cfg *config.Config, o *config.CLIOverrides) {
	applied := config.CLIOverrides{}

	ifChanged(flags, "num-thread", o.NumThread != nil, func() { applied.NumThread = o.NumThread })
	ifChanged(flags, "debug-file", o.DebugFile != nil, func() { applied.DebugFile = o.DebugFile })
	ifChanged(flags, "binary", o.Binary != nil, func() { applied.Binary = o.Binary })
	ifChanged(flags, "epoch-size", o.EpochSize != nil, func() { applied.EpochSize = o.EpochSize })
	ifChanged(flags, "shuffle", o.Shuffle != nil, func() { applied.Shuffle = o.Shuffle })
	ifChanged(flags, "random-seed", o.RandomSeed != nil, func() { applied.RandomSeed = o.RandomSeed })
	ifChanged(flags, "dry-run", o.DryRun != nil, func() { applied.DryRun = o.DryRun })
	ifChanged(flags, "print-sent-prob", o.PrintSentProb != nil, func() { applied.PrintSentProb = o.PrintSentProb })
	ifChanged(flags, "out-log-base", o.OutLogBase != nil, func() { applied.OutLogBase = o.OutLogBase })
	ifChanged(flags, "prefix-file", o.PrefixFile != nil, func() { applied.PrefixFile = o.PrefixFile })
	ifChanged(flags, "max-gram", o.MaxGram != nil, func() { applied.MaxGram = o.MaxGram })
	ifChanged(flags, "bloom-filter-file", o.BloomFilterFile != nil, func() { applied.BloomFilterFile = o.BloomFilterFile })
	ifChanged(flags, "wildcard-state-file", o.WildcardStateFile != nil, func() { applied.WildcardStateFile = o.WildcardStateFile })
	ifChanged(flags, "word-syms-file", o.WordSymsFile != nil, func() { applied.WordSymsFile = o.WordSymsFile })
	ifChanged(flags, "state-syms-file", o.StateSymsFile != nil, func() { applied.StateSymsFile = o.StateSymsFile })
	ifChanged(flags, "print-syms", o.PrintSyms != nil, func() { applied.PrintSyms = o.PrintSyms })
	ifChanged(flags, "word-selection-method", o.WordSelectionMethod != nil, func() { applied.WordSelectionMethod = o.WordSelectionMethod })
	ifChanged(flags, "threshold", o.Threshold != nil, func() { applied.Threshold = o.Threshold })
	ifChanged(flags, "num-workers", o.NumWorkers != nil, func() { applied.NumWorkers = o.NumWorkers })
	ifChanged(flags, "cache-size", o.CacheSize != nil, func() { applied.CacheSize = o.CacheSize })
	ifChanged(flags, "mcp-enabled", o.MCPEnabled != nil, func() { applied.MCPEnabled = o.MCPEnabled })
	ifChanged(flags, "mcp-addr", o.MCPAddr != nil, func() { applied.MCPAddr = o.MCPAddr })
	ifChanged(flags, "mcp-api-key", o.MCPAPIKey != nil, func() { applied.MCPAPIKey = o.MCPAPIKey })
	ifChanged(flags, "mcp-model-path", o.MCPModelPath != nil, func() { applied.MCPModelPath = o.MCPModelPath })

	cfg.ApplyCLIOverrides(&applied)
}

// ifChanged runs apply when flags.Changed(name) is true and the override
// pointer is non-nil (pflag Changed is keyed by the flag actually being
// registered on this particular subcommand's flag set).
func ifChanged(flags *pflag.FlagSet, name string, nonNil bool, apply func()) {
	if !nonNil {
		return
	}
	if flags.Lookup(name) == nil {
		return
	}
	if flags.Changed(name) {
		apply()
	}
}
