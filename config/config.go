// Package config holds the injected configuration table the simulator
// treats as constant per run: cluster limits, analytic latency
// coefficients, and the LoRA cost table. The simulation core never
// special-cases these values; they are loaded once (defaults or a YAML
// file) and passed down to the fleet/router/admission packages.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// LatencyTable holds the closed-form prefill/decode delay coefficients.
//
//	prefill_delay(n, items) = max(Min, A*n^2 + B*n + C + Tokenize*items)
//	decode_delay(n, items)  = D*n + E + (Tokenize+Batch)*items
type LatencyTable struct {
	Tokenize float64 `yaml:"tokenize_latency"`

	PrefillA   float64 `yaml:"prefill_a"`
	PrefillB   float64 `yaml:"prefill_b"`
	PrefillC   float64 `yaml:"prefill_c"`
	PrefillMin float64 `yaml:"prefill_min"`

	DecodeD     float64 `yaml:"decode_d"`
	DecodeE     float64 `yaml:"decode_e"`
	DecodeBatch float64 `yaml:"decode_batch"`

	// LoraCosts maps a LoRA tag to the number of KV-cache tokens its
	// weights cost a server that loads it.
	LoraCosts map[string]int `yaml:"lora_dict"`
}

// ClusterLimits holds per-server admission/KV-pressure thresholds.
type ClusterLimits struct {
	MaxNumSeq                           int     `yaml:"max_num_seq"`
	MaxNumBatchTokens                   int     `yaml:"max_num_batch_tokens"`
	MaxNumTokensAllowed                 int     `yaml:"max_num_tokens_allowed"`
	MaxKVPercBeforeRecompute            float64 `yaml:"max_kv_perc_before_recompute"`
	MaxKVPercBeforeRecomputeNonCritical float64 `yaml:"max_kv_perc_before_recompute_non_critical"`
	MaxPrefillQueueSize                 int     `yaml:"max_prefill_queue_size"`
}

// Config is the full injected constants table for one simulation run.
type Config struct {
	Latency LatencyTable  `yaml:"latency"`
	Limits  ClusterLimits `yaml:"limits"`
}

// DefaultLatencyTable returns an internally-consistent example
// coefficient table. These numbers are configuration, not simulation
// logic — callers overriding them via YAML never change simulator
// behavior beyond what the formulas in fleet.PrefillDelay/DecodeDelay
// already define.
func DefaultLatencyTable() LatencyTable {
	return LatencyTable{
		Tokenize:    0.0005,
		PrefillA:    0.000006,
		PrefillB:    0.0004,
		PrefillC:    0.002,
		PrefillMin:  0.01,
		DecodeD:     0.00002,
		DecodeE:     0.004,
		DecodeBatch: 0.001,
		LoraCosts:   map[string]int{},
	}
}

// DefaultClusterLimits returns a reasonable default set of per-server
// limits for a single GPU-class server.
func DefaultClusterLimits() ClusterLimits {
	return ClusterLimits{
		MaxNumSeq:                           256,
		MaxNumBatchTokens:                   2048,
		MaxNumTokensAllowed:                 16384,
		MaxKVPercBeforeRecompute:            0.9,
		MaxKVPercBeforeRecomputeNonCritical: 0.8,
		MaxPrefillQueueSize:                 5,
	}
}

// Default returns the default Config used when no --config file is
// given.
func Default() Config {
	return Config{
		Latency: DefaultLatencyTable(),
		Limits:  DefaultClusterLimits(),
	}
}

// Load reads a YAML constants-table file, starting from Default() so a
// partial file only overrides what it names, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError marks a configuration-class error: these must fail
// before a simulation starts, never mid-run.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Validate checks internal consistency of the constants table.
func (c Config) Validate() error {
	if c.Limits.MaxNumSeq <= 0 {
		return validationErrorf("limits.max_num_seq must be > 0, got %d", c.Limits.MaxNumSeq)
	}
	if c.Limits.MaxNumBatchTokens <= 0 {
		return validationErrorf("limits.max_num_batch_tokens must be > 0, got %d", c.Limits.MaxNumBatchTokens)
	}
	if c.Limits.MaxNumTokensAllowed <= 0 {
		return validationErrorf("limits.max_num_tokens_allowed must be > 0, got %d", c.Limits.MaxNumTokensAllowed)
	}
	if c.Limits.MaxKVPercBeforeRecompute <= 0 || c.Limits.MaxKVPercBeforeRecompute > 1 {
		return validationErrorf("limits.max_kv_perc_before_recompute must be in (0, 1], got %v", c.Limits.MaxKVPercBeforeRecompute)
	}
	if c.Limits.MaxKVPercBeforeRecomputeNonCritical <= 0 || c.Limits.MaxKVPercBeforeRecomputeNonCritical > 1 {
		return validationErrorf("limits.max_kv_perc_before_recompute_non_critical must be in (0, 1], got %v", c.Limits.MaxKVPercBeforeRecomputeNonCritical)
	}
	if c.Latency.PrefillMin < 0 {
		return validationErrorf("latency.prefill_min must be >= 0, got %v", c.Latency.PrefillMin)
	}
	for tag, cost := range c.Latency.LoraCosts {
		if cost < 0 {
			return validationErrorf("latency.lora_dict[%q] must be >= 0, got %d", tag, cost)
		}
	}
	return nil
}

// ValidateQueueingPerc checks the --queueing_perc flag is in [0, +Inf].
func ValidateQueueingPerc(v float64) error {
	if math.IsNaN(v) || v < 0 {
		return validationErrorf("queueing_perc must be in [0, +Inf], got %v", v)
	}
	return nil
}
