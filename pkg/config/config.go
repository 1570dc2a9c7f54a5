// Package config resolves connlm-go's runtime configuration through the
// same four-level hierarchy the teacher uses: built-in defaults, overlaid
// by an optional YAML file, overlaid by CONNLM_* environment variables,
// overlaid last by explicitly-set CLI flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GeneralConfig groups settings shared by every verb.
type GeneralConfig struct {
	// Binary is parsed and validated but does not change model I/O: models
	// are always saved and loaded in the binary format; there is no text
	// model codec.
	Binary bool `yaml:"binary"`

	// DebugFile, when non-empty, receives verbose per-word driver output.
	DebugFile string `yaml:"debugFile"`

	// NumThread is the number of driver worker goroutines.
	NumThread int `yaml:"numThread"`
}

// TrainConfig groups `train` verb settings.
type TrainConfig struct {
	// EpochSize is the number of sentences per reader word pool. It is
	// passed to reader.Config.EpochSize as is, not scaled by 1000.
	EpochSize int `yaml:"epochSize"`

	// Shuffle enables sentence-order shuffling within each epoch.
	Shuffle bool `yaml:"shuffle"`

	// RandomSeed seeds shuffling and any stochastic sampling. 0 means
	// "derive from the current time" at the call site.
	RandomSeed int64 `yaml:"randomSeed"`

	// DryRun parses and validates the topology/vocab without updating
	// weights or writing a model.
	DryRun bool `yaml:"dryRun"`
}

// EvalConfig groups `eval` verb settings.
type EvalConfig struct {
	// PrintSentProb prints each sentence's log-probability as it is scored.
	PrintSentProb bool `yaml:"printSentProb"`

	// OutLogBase is "e" for natural log or a numeric base string (e.g. "10").
	OutLogBase string `yaml:"outLogBase"`
}

// GenConfig groups `gen` verb settings.
type GenConfig struct {
	// PrefixFile, when non-empty, seeds each generated sentence with a
	// fixed prefix read line-by-line from this file.
	PrefixFile string `yaml:"prefixFile"`

	// RandomSeed seeds the sampler. 0 means "derive from the current time".
	RandomSeed int64 `yaml:"randomSeed"`
}

// ConverterConfig groups `converter` verb settings (spec.md §6).
type ConverterConfig struct {
	// MaxGram bounds the WFST expansion order. 0 means unbounded.
	MaxGram int `yaml:"maxGram"`

	// BloomFilterFile, when non-empty, loads a precomputed bloom filter
	// used to prune candidate n-grams during expansion.
	BloomFilterFile string `yaml:"bloomFilterFile"`

	// WildcardStateFile is loaded from YAML/env/overrides but not read by
	// the converter: the wildcard-root state is rebuilt on every run and
	// nothing is persisted to this path.
	WildcardStateFile string `yaml:"wildcardStateFile"`

	// WordSymsFile, when non-empty, writes the word symbol table.
	WordSymsFile string `yaml:"wordSymsFile"`

	// StateSymsFile is accepted but unused: the converter does not write a
	// state symbol table, since its states are not separately named.
	StateSymsFile string `yaml:"stateSymsFile"`

	// PrintSyms enables inline symbol names instead of numeric ids in the
	// emitted FST text format.
	PrintSyms bool `yaml:"printSyms"`

	// WordSelectionMethod is "Beam" or "Majority".
	WordSelectionMethod string `yaml:"wordSelectionMethod"`

	// Threshold is the beam width (log-prob) or majority cumulative mass,
	// depending on WordSelectionMethod.
	Threshold float64 `yaml:"threshold"`

	// NumWorkers is the number of parallel state-expansion goroutines.
	NumWorkers int `yaml:"numWorkers"`

	// CacheSize bounds the hidden-state block cache. 0 means unbounded.
	CacheSize int `yaml:"cacheSize"`
}

// MCPConfig groups the optional MCP tool-server front-end's settings
// (supplemented feature, see DESIGN.md).
type MCPConfig struct {
	// Enabled, when true, makes Validate require a non-empty Addr and
	// ModelPath. The serve-mcp verb starts the server whether or not it is
	// set.
	Enabled bool `yaml:"enabled"`

	// Addr is the TCP address the MCP server listens on.
	Addr string `yaml:"addr"`

	// APIKey is an optional shared secret validated on every tool call.
	APIKey string `yaml:"apiKey"`

	// ModelPath is the model file the eval/gen tools operate against.
	ModelPath string `yaml:"modelPath"`
}

// Config is the root configuration object for connlm-go.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Train     TrainConfig     `yaml:"train"`
	Eval      EvalConfig      `yaml:"eval"`
	Gen       GenConfig       `yaml:"gen"`
	Converter ConverterConfig `yaml:"converter"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// Default returns a Config populated with the toolkit's built-in defaults.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			Binary:    true,
			DebugFile: "",
			NumThread: 1,
		},
		Train: TrainConfig{
			EpochSize:  1,
			Shuffle:    true,
			RandomSeed: 0,
			DryRun:     false,
		},
		Eval: EvalConfig{
			PrintSentProb: false,
			OutLogBase:    "e",
		},
		Gen: GenConfig{
			PrefixFile: "",
			RandomSeed: 0,
		},
		Converter: ConverterConfig{
			MaxGram:             0,
			BloomFilterFile:     "",
			WildcardStateFile:   "",
			WordSymsFile:        "",
			StateSymsFile:       "",
			PrintSyms:           false,
			WordSelectionMethod: "Beam",
			Threshold:           1.0,
			NumWorkers:          1,
			CacheSize:           0,
		},
		MCP: MCPConfig{
			Enabled:   false,
			Addr:      ":7070",
			APIKey:    "",
			ModelPath: "",
		},
	}
}

// FromFile reads a YAML configuration file and merges it on top of the
// built-in defaults. Fields absent from the file retain their defaults.
func FromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv applies CONNLM_* environment variable overrides to cfg. If cfg
// is nil a new default Config is created first.
//
// Environment variable mapping (all optional):
//
//	CONNLM_BINARY                  → General.Binary          ("true"/"false")
//	CONNLM_DEBUG_FILE               → General.DebugFile
//	CONNLM_NUM_THREAD               → General.NumThread
//	CONNLM_EPOCH_SIZE               → Train.EpochSize
//	CONNLM_SHUFFLE                  → Train.Shuffle           ("true"/"false")
//	CONNLM_RANDOM_SEED              → Train.RandomSeed
//	CONNLM_DRY_RUN                  → Train.DryRun            ("true"/"false")
//	CONNLM_PRINT_SENT_PROB          → Eval.PrintSentProb      ("true"/"false")
//	CONNLM_OUT_LOG_BASE             → Eval.OutLogBase
//	CONNLM_PREFIX_FILE              → Gen.PrefixFile
//	CONNLM_GEN_RANDOM_SEED          → Gen.RandomSeed
//	CONNLM_MAX_GRAM                 → Converter.MaxGram
//	CONNLM_BLOOM_FILTER_FILE        → Converter.BloomFilterFile
//	CONNLM_WILDCARD_STATE_FILE      → Converter.WildcardStateFile
//	CONNLM_WORD_SYMS_FILE           → Converter.WordSymsFile
//	CONNLM_STATE_SYMS_FILE          → Converter.StateSymsFile
//	CONNLM_PRINT_SYMS               → Converter.PrintSyms     ("true"/"false")
//	CONNLM_WORD_SELECTION_METHOD    → Converter.WordSelectionMethod
//	CONNLM_THRESHOLD                → Converter.Threshold
//	CONNLM_CONVERTER_NUM_WORKERS    → Converter.NumWorkers
//	CONNLM_CONVERTER_CACHE_SIZE     → Converter.CacheSize
//	CONNLM_MCP_ENABLED              → MCP.Enabled             ("true"/"false")
//	CONNLM_MCP_ADDR                 → MCP.Addr
//	CONNLM_MCP_API_KEY              → MCP.APIKey
//	CONNLM_MCP_MODEL_PATH           → MCP.ModelPath
func FromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = Default()
	}

	setEnvBool("CONNLM_BINARY", &cfg.General.Binary)
	setEnvStr("CONNLM_DEBUG_FILE", &cfg.General.DebugFile)
	setEnvInt("CONNLM_NUM_THREAD", &cfg.General.NumThread)

	setEnvInt("CONNLM_EPOCH_SIZE", &cfg.Train.EpochSize)
	setEnvBool("CONNLM_SHUFFLE", &cfg.Train.Shuffle)
	setEnvInt64("CONNLM_RANDOM_SEED", &cfg.Train.RandomSeed)
	setEnvBool("CONNLM_DRY_RUN", &cfg.Train.DryRun)

	setEnvBool("CONNLM_PRINT_SENT_PROB", &cfg.Eval.PrintSentProb)
	setEnvStr("CONNLM_OUT_LOG_BASE", &cfg.Eval.OutLogBase)

	setEnvStr("CONNLM_PREFIX_FILE", &cfg.Gen.PrefixFile)
	setEnvInt64("CONNLM_GEN_RANDOM_SEED", &cfg.Gen.RandomSeed)

	setEnvInt("CONNLM_MAX_GRAM", &cfg.Converter.MaxGram)
	setEnvStr("CONNLM_BLOOM_FILTER_FILE", &cfg.Converter.BloomFilterFile)
	setEnvStr("CONNLM_WILDCARD_STATE_FILE", &cfg.Converter.WildcardStateFile)
	setEnvStr("CONNLM_WORD_SYMS_FILE", &cfg.Converter.WordSymsFile)
	setEnvStr("CONNLM_STATE_SYMS_FILE", &cfg.Converter.StateSymsFile)
	setEnvBool("CONNLM_PRINT_SYMS", &cfg.Converter.PrintSyms)
	setEnvStr("CONNLM_WORD_SELECTION_METHOD", &cfg.Converter.WordSelectionMethod)
	setEnvFloat("CONNLM_THRESHOLD", &cfg.Converter.Threshold)
	setEnvInt("CONNLM_CONVERTER_NUM_WORKERS", &cfg.Converter.NumWorkers)
	setEnvInt("CONNLM_CONVERTER_CACHE_SIZE", &cfg.Converter.CacheSize)

	setEnvBool("CONNLM_MCP_ENABLED", &cfg.MCP.Enabled)
	setEnvStr("CONNLM_MCP_ADDR", &cfg.MCP.Addr)
	setEnvStr("CONNLM_MCP_API_KEY", &cfg.MCP.APIKey)
	setEnvStr("CONNLM_MCP_MODEL_PATH", &cfg.MCP.ModelPath)

	return cfg
}

// Load implements the full configuration hierarchy up through environment
// variables: defaults, optionally overlaid by a YAML file, then overlaid
// by CONNLM_* environment variables. The caller applies CLIOverrides last,
// via ApplyCLIOverrides.
func Load(configPath string) (*Config, error) {
	var cfg *Config
	if configPath != "" {
		var err error
		cfg, err = FromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = Default()
	}
	return FromEnv(cfg), nil
}

// Validate performs structural validation of the entire configuration.
func (c *Config) Validate() error {
	if c.General.NumThread < 1 {
		return fmt.Errorf("general.numThread must be >= 1, got %d", c.General.NumThread)
	}

	if c.Train.EpochSize < 1 {
		return fmt.Errorf("train.epochSize must be >= 1, got %d", c.Train.EpochSize)
	}

	base := strings.ToLower(strings.TrimSpace(c.Eval.OutLogBase))
	if base != "e" {
		if _, err := strconv.ParseFloat(base, 64); err != nil {
			return fmt.Errorf("eval.outLogBase must be \"e\" or numeric, got %q", c.Eval.OutLogBase)
		}
	}

	method := strings.ToLower(strings.TrimSpace(c.Converter.WordSelectionMethod))
	if method != "beam" && method != "majority" {
		return fmt.Errorf("converter.wordSelectionMethod must be Beam or Majority, got %q",
			c.Converter.WordSelectionMethod)
	}
	if c.Converter.NumWorkers < 1 {
		return fmt.Errorf("converter.numWorkers must be >= 1, got %d", c.Converter.NumWorkers)
	}
	if c.Converter.CacheSize < 0 {
		return fmt.Errorf("converter.cacheSize must be >= 0, got %d", c.Converter.CacheSize)
	}

	if c.MCP.Enabled {
		if c.MCP.Addr == "" {
			return fmt.Errorf("mcp.addr must not be empty when mcp.enabled is true")
		}
		if c.MCP.ModelPath == "" {
			return fmt.Errorf("mcp.modelPath must not be empty when mcp.enabled is true")
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// CLI flag overrides — final layer of the configuration hierarchy.
// ---------------------------------------------------------------------------

// CLIOverrides carries optional values set via command-line flags. Pointer
// fields are nil when the flag was not explicitly provided, so the caller
// can distinguish "not set" from the zero value.
type CLIOverrides struct {
	NumThread           *int
	DebugFile           *string
	Binary              *bool
	EpochSize           *int
	Shuffle             *bool
	RandomSeed          *int64
	DryRun              *bool
	PrintSentProb       *bool
	OutLogBase          *string
	PrefixFile          *string
	MaxGram             *int
	BloomFilterFile     *string
	WildcardStateFile   *string
	WordSymsFile        *string
	StateSymsFile       *string
	PrintSyms           *bool
	WordSelectionMethod *string
	Threshold           *float64
	NumWorkers          *int
	CacheSize           *int
	MCPEnabled          *bool
	MCPAddr             *string
	MCPAPIKey           *string
	MCPModelPath        *string
}

// ApplyCLIOverrides patches cfg with any explicitly-set CLI flags. Only
// non-nil fields in o are applied, preserving values resolved from earlier
// hierarchy layers.
func (c *Config) ApplyCLIOverrides(o *CLIOverrides) {
	if o == nil {
		return
	}
	if o.NumThread != nil {
		c.General.NumThread = *o.NumThread
	}
	if o.DebugFile != nil {
		c.General.DebugFile = *o.DebugFile
	}
	if o.Binary != nil {
		c.General.Binary = *o.Binary
	}
	if o.EpochSize != nil {
		c.Train.EpochSize = *o.EpochSize
	}
	if o.Shuffle != nil {
		c.Train.Shuffle = *o.Shuffle
	}
	if o.RandomSeed != nil {
		c.Train.RandomSeed = *o.RandomSeed
		c.Gen.RandomSeed = *o.RandomSeed
	}
	if o.DryRun != nil {
		c.Train.DryRun = *o.DryRun
	}
	if o.PrintSentProb != nil {
		c.Eval.PrintSentProb = *o.PrintSentProb
	}
	if o.OutLogBase != nil {
		c.Eval.OutLogBase = *o.OutLogBase
	}
	if o.PrefixFile != nil {
		c.Gen.PrefixFile = *o.PrefixFile
	}
	if o.MaxGram != nil {
		c.Converter.MaxGram = *o.MaxGram
	}
	if o.BloomFilterFile != nil {
		c.Converter.BloomFilterFile = *o.BloomFilterFile
	}
	if o.WildcardStateFile != nil {
		c.Converter.WildcardStateFile = *o.WildcardStateFile
	}
	if o.WordSymsFile != nil {
		c.Converter.WordSymsFile = *o.WordSymsFile
	}
	if o.StateSymsFile != nil {
		c.Converter.StateSymsFile = *o.StateSymsFile
	}
	if o.PrintSyms != nil {
		c.Converter.PrintSyms = *o.PrintSyms
	}
	if o.WordSelectionMethod != nil {
		c.Converter.WordSelectionMethod = *o.WordSelectionMethod
	}
	if o.Threshold != nil {
		c.Converter.Threshold = *o.Threshold
	}
	if o.NumWorkers != nil {
		c.Converter.NumWorkers = *o.NumWorkers
	}
	if o.CacheSize != nil {
		c.Converter.CacheSize = *o.CacheSize
	}
	if o.MCPEnabled != nil {
		c.MCP.Enabled = *o.MCPEnabled
	}
	if o.MCPAddr != nil {
		c.MCP.Addr = *o.MCPAddr
	}
	if o.MCPAPIKey != nil {
		c.MCP.APIKey = *o.MCPAPIKey
	}
	if o.MCPModelPath != nil {
		c.MCP.ModelPath = *o.MCPModelPath
	}
}

// ---------------------------------------------------------------------------
// Environment variable parsing helpers
// ---------------------------------------------------------------------------

func setEnvStr(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setEnvBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func setEnvInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setEnvInt64(key string, target *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

func setEnvFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}
