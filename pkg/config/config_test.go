package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if !cfg.General.Binary {
		t.Errorf("General.Binary = false, want true")
	}
	if cfg.General.NumThread != 1 {
		t.Errorf("General.NumThread = %d, want 1", cfg.General.NumThread)
	}
	if cfg.Train.EpochSize != 1 {
		t.Errorf("Train.EpochSize = %d, want 1", cfg.Train.EpochSize)
	}
	if !cfg.Train.Shuffle {
		t.Errorf("Train.Shuffle = false, want true")
	}
	if cfg.Eval.OutLogBase != "e" {
		t.Errorf("Eval.OutLogBase = %q, want \"e\"", cfg.Eval.OutLogBase)
	}
	if cfg.Converter.WordSelectionMethod != "Beam" {
		t.Errorf("Converter.WordSelectionMethod = %q, want Beam", cfg.Converter.WordSelectionMethod)
	}
	if cfg.Converter.NumWorkers != 1 {
		t.Errorf("Converter.NumWorkers = %d, want 1", cfg.Converter.NumWorkers)
	}
	if cfg.MCP.Enabled {
		t.Errorf("MCP.Enabled = true, want false")
	}
}

func TestDefaultConfigPassesValidation(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestFromFilePartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connlm.yaml")
	yamlContent := `
train:
  epochSize: 4
  shuffle: false
converter:
  maxGram: 3
  wordSelectionMethod: Majority
  threshold: 0.95
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if cfg.Train.EpochSize != 4 {
		t.Errorf("Train.EpochSize = %d, want 4", cfg.Train.EpochSize)
	}
	if cfg.Train.Shuffle {
		t.Errorf("Train.Shuffle = true, want false")
	}
	if cfg.Converter.MaxGram != 3 {
		t.Errorf("Converter.MaxGram = %d, want 3", cfg.Converter.MaxGram)
	}
	// Fields absent from the file retain their defaults.
	if cfg.General.NumThread != 1 {
		t.Errorf("General.NumThread = %d, want default 1", cfg.General.NumThread)
	}
	if cfg.Eval.OutLogBase != "e" {
		t.Errorf("Eval.OutLogBase = %q, want default \"e\"", cfg.Eval.OutLogBase)
	}
}

func TestFromFileNotFound(t *testing.T) {
	if _, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestFromFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("train: [this is not a mapping"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := FromFile(path); err == nil {
		t.Fatalf("expected an error for invalid YAML")
	}
}

func TestFromEnvAllVars(t *testing.T) {
	vars := map[string]string{
		"CONNLM_BINARY":                "false",
		"CONNLM_DEBUG_FILE":            "/tmp/dbg.log",
		"CONNLM_NUM_THREAD":            "8",
		"CONNLM_EPOCH_SIZE":            "16",
		"CONNLM_SHUFFLE":               "false",
		"CONNLM_RANDOM_SEED":           "42",
		"CONNLM_DRY_RUN":               "true",
		"CONNLM_PRINT_SENT_PROB":       "true",
		"CONNLM_OUT_LOG_BASE":          "10",
		"CONNLM_PREFIX_FILE":           "/tmp/prefix.txt",
		"CONNLM_MAX_GRAM":              "5",
		"CONNLM_WORD_SELECTION_METHOD": "Majority",
		"CONNLM_THRESHOLD":             "0.9",
		"CONNLM_CONVERTER_NUM_WORKERS": "4",
		"CONNLM_MCP_ENABLED":           "true",
		"CONNLM_MCP_ADDR":              ":9999",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}

	cfg := FromEnv(nil)
	if cfg.General.Binary {
		t.Errorf("General.Binary = true, want false")
	}
	if cfg.General.DebugFile != "/tmp/dbg.log" {
		t.Errorf("General.DebugFile = %q", cfg.General.DebugFile)
	}
	if cfg.General.NumThread != 8 {
		t.Errorf("General.NumThread = %d, want 8", cfg.General.NumThread)
	}
	if cfg.Train.EpochSize != 16 {
		t.Errorf("Train.EpochSize = %d, want 16", cfg.Train.EpochSize)
	}
	if cfg.Train.Shuffle {
		t.Errorf("Train.Shuffle = true, want false")
	}
	if cfg.Train.RandomSeed != 42 {
		t.Errorf("Train.RandomSeed = %d, want 42", cfg.Train.RandomSeed)
	}
	if !cfg.Train.DryRun {
		t.Errorf("Train.DryRun = false, want true")
	}
	if !cfg.Eval.PrintSentProb {
		t.Errorf("Eval.PrintSentProb = false, want true")
	}
	if cfg.Eval.OutLogBase != "10" {
		t.Errorf("Eval.OutLogBase = %q, want \"10\"", cfg.Eval.OutLogBase)
	}
	if cfg.Gen.PrefixFile != "/tmp/prefix.txt" {
		t.Errorf("Gen.PrefixFile = %q", cfg.Gen.PrefixFile)
	}
	if cfg.Converter.MaxGram != 5 {
		t.Errorf("Converter.MaxGram = %d, want 5", cfg.Converter.MaxGram)
	}
	if cfg.Converter.WordSelectionMethod != "Majority" {
		t.Errorf("Converter.WordSelectionMethod = %q, want Majority", cfg.Converter.WordSelectionMethod)
	}
	if cfg.Converter.Threshold != 0.9 {
		t.Errorf("Converter.Threshold = %v, want 0.9", cfg.Converter.Threshold)
	}
	if cfg.Converter.NumWorkers != 4 {
		t.Errorf("Converter.NumWorkers = %d, want 4", cfg.Converter.NumWorkers)
	}
	if !cfg.MCP.Enabled {
		t.Errorf("MCP.Enabled = false, want true")
	}
	if cfg.MCP.Addr != ":9999" {
		t.Errorf("MCP.Addr = %q, want \":9999\"", cfg.MCP.Addr)
	}
}

func TestFromEnvNilInput(t *testing.T) {
	cfg := FromEnv(nil)
	if cfg == nil {
		t.Fatalf("FromEnv(nil) returned nil")
	}
	if cfg.General.NumThread != 1 {
		t.Errorf("expected defaults when no env vars set, got NumThread=%d", cfg.General.NumThread)
	}
}

func TestFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("CONNLM_NUM_THREAD", "not-a-number")
	t.Setenv("CONNLM_THRESHOLD", "also-not-a-number")
	cfg := FromEnv(nil)
	if cfg.General.NumThread != 1 {
		t.Errorf("General.NumThread = %d, want default 1 preserved on parse failure", cfg.General.NumThread)
	}
	if cfg.Converter.Threshold != 1.0 {
		t.Errorf("Converter.Threshold = %v, want default 1.0 preserved on parse failure", cfg.Converter.Threshold)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.General.NumThread != 1 {
		t.Errorf("General.NumThread = %d, want 1", cfg.General.NumThread)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connlm.yaml")
	if err := os.WriteFile(path, []byte("general:\n  numThread: 2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CONNLM_NUM_THREAD", "6")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.NumThread != 6 {
		t.Errorf("General.NumThread = %d, want env override 6", cfg.General.NumThread)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestValidateRejectsZeroNumThread(t *testing.T) {
	cfg := Default()
	cfg.General.NumThread = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for NumThread=0")
	}
}

func TestValidateRejectsZeroEpochSize(t *testing.T) {
	cfg := Default()
	cfg.Train.EpochSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for EpochSize=0")
	}
}

func TestValidateRejectsBadOutLogBase(t *testing.T) {
	cfg := Default()
	cfg.Eval.OutLogBase = "not-e-or-a-number"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an invalid outLogBase")
	}
}

func TestValidateAcceptsNumericOutLogBase(t *testing.T) {
	cfg := Default()
	cfg.Eval.OutLogBase = "10"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for numeric outLogBase", err)
	}
}

func TestValidateRejectsUnknownSelectionMethod(t *testing.T) {
	cfg := Default()
	cfg.Converter.WordSelectionMethod = "Bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an unknown word selection method")
	}
}

func TestValidateRejectsMCPEnabledWithoutModelPath(t *testing.T) {
	cfg := Default()
	cfg.MCP.Enabled = true
	cfg.MCP.Addr = ":7070"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error when mcp.enabled is true but modelPath is empty")
	}
}

func TestApplyCLIOverridesNilOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyCLIOverrides(nil)
	if cfg.General.NumThread != 1 {
		t.Errorf("nil overrides mutated the config")
	}
}

func TestApplyCLIOverridesPartial(t *testing.T) {
	cfg := Default()
	n := 4
	cfg.ApplyCLIOverrides(&CLIOverrides{NumThread: &n})
	if cfg.General.NumThread != 4 {
		t.Errorf("General.NumThread = %d, want 4", cfg.General.NumThread)
	}
	if cfg.Train.EpochSize != 1 {
		t.Errorf("unrelated field Train.EpochSize was mutated: %d", cfg.Train.EpochSize)
	}
}

func TestApplyCLIOverridesRandomSeedAppliesToBothTrainAndGen(t *testing.T) {
	cfg := Default()
	seed := int64(7)
	cfg.ApplyCLIOverrides(&CLIOverrides{RandomSeed: &seed})
	if cfg.Train.RandomSeed != 7 || cfg.Gen.RandomSeed != 7 {
		t.Errorf("RandomSeed override = (train=%d, gen=%d), want both 7", cfg.Train.RandomSeed, cfg.Gen.RandomSeed)
	}
}

func TestApplyCLIOverridesWinsOverEnvAndYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connlm.yaml")
	if err := os.WriteFile(path, []byte("general:\n  numThread: 2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CONNLM_NUM_THREAD", "6")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	n := 12
	cfg.ApplyCLIOverrides(&CLIOverrides{NumThread: &n})
	if cfg.General.NumThread != 12 {
		t.Errorf("General.NumThread = %d, want CLI override 12", cfg.General.NumThread)
	}
}

func TestSetEnvStr(t *testing.T) {
	var s string
	setEnvStr("CONNLM_TEST_STR_UNSET", &s)
	if s != "" {
		t.Errorf("unset env var mutated target: %q", s)
	}
	t.Setenv("CONNLM_TEST_STR_SET", "hello")
	setEnvStr("CONNLM_TEST_STR_SET", &s)
	if s != "hello" {
		t.Errorf("s = %q, want hello", s)
	}
}

func TestSetEnvBoolIgnoresGarbage(t *testing.T) {
	b := true
	t.Setenv("CONNLM_TEST_BOOL", "not-a-bool")
	setEnvBool("CONNLM_TEST_BOOL", &b)
	if !b {
		t.Errorf("garbage env value should leave target unchanged, got %v", b)
	}
}
