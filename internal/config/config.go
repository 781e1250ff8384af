// internal/config/config.go
//
// This package loads and validates the pipeline configuration. Every run
// reads one YAML file (by convention config/pipeline.yaml) describing which
// tools are enabled, the filtering thresholds, and the resource budget.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Error reports an invalid or missing configuration value. Configuration
// errors are fatal: the run must not start with a half-valid config.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ExecutionConfig controls run identity and workspace layout.
type ExecutionConfig struct {
	RunID       string `yaml:"run_id"`
	ResultsDir  string `yaml:"results_dir"`
	WorkDir     string `yaml:"work_dir"`
	SampleSheet string `yaml:"sample_sheet"`
	// MockMode replaces external tool invocations with deterministic
	// in-process stand-ins so a full run can execute without the real
	// bioinformatics binaries installed.
	MockMode bool `yaml:"mock_mode"`
}

// ToolsConfig selects which detectors run and carries raw per-tool flags.
type ToolsConfig struct {
	Enabled map[string]bool   `yaml:"enabled"`
	Params  map[string]string `yaml:"params"`
}

// ThresholdsConfig gathers every externally supplied gate threshold.
type ThresholdsConfig struct {
	MinToolsHit        int      `yaml:"min_tools_hit"`
	AllowedTiers       []string `yaml:"allowed_quality_tiers"`
	ContaminationRatio float64  `yaml:"contamination_ratio"`
	Identity           float64  `yaml:"dedup_identity"`
	Coverage           float64  `yaml:"dedup_coverage"`
	MinContigLength    int      `yaml:"min_contig_length"`
	DVFScore           float64  `yaml:"dvf_score"`
	DVFPValue          float64  `yaml:"dvf_pvalue"`
	BlastnPident       float64  `yaml:"blastn_pident"`
	BlastnEvalue       float64  `yaml:"blastn_evalue"`
	BlastnQcovs        float64  `yaml:"blastn_qcovs"`
}

// EstimationConfig tunes the resource estimator.
type EstimationConfig struct {
	Enabled bool `yaml:"enabled"`
	// Fudge is a conservative multiplier applied to every estimate. Must be
	// >= 1.0 so estimates never shrink below the modeled requirement.
	Fudge float64 `yaml:"fudge"`
	// Overrides maps tool name -> profile field -> value, merged over the
	// built-in per-tool profiles.
	Overrides map[string]map[string]float64 `yaml:"overrides"`
}

// ResourcesConfig sizes the scheduler's worker pool.
type ResourcesConfig struct {
	WorkerSlots    int              `yaml:"worker_slots"`
	MemoryBudgetMB int              `yaml:"memory_budget_mb"`
	DefaultThreads int              `yaml:"default_threads"`
	Estimation     EstimationConfig `yaml:"estimation"`
}

// AgentConfig controls the risk-graded decision policy.
type AgentConfig struct {
	// AutoApproveRiskLevels lists risk tiers ("low", "high") whose actions
	// may be applied without operator confirmation.
	AutoApproveRiskLevels []string `yaml:"auto_approve_risk_levels"`
	RetryLimit            int      `yaml:"retry_limit"`
	LowYieldThreshold     int      `yaml:"low_yield_threshold"`
}

// Config models the full pipeline configuration file.
type Config struct {
	Execution  ExecutionConfig  `yaml:"execution"`
	Tools      ToolsConfig      `yaml:"tools"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Resources  ResourcesConfig  `yaml:"resources"`
	Agent      AgentConfig      `yaml:"agent"`
}

// KnownTools is the closed set of detector names the pipeline understands.
// Tool selection is a lookup into this set, never dynamic dispatch.
var KnownTools = []string{"virsorter", "genomad", "dvf", "vibrant", "blastn", "checkv"}

// KnownTiers lists the quality tier names accepted in allowed_quality_tiers.
var KnownTiers = []string{"Complete", "High", "Medium", "Low", "NotDetermined"}

// Default returns the built-in configuration. Values mirror the documented
// fallbacks: consensus accepts a single tool vote, the quality gate keeps
// Complete/High/Medium, and contamination tolerates a 5% marker ratio.
func Default() Config {
	return Config{
		Execution: ExecutionConfig{
			RunID:       "",
			ResultsDir:  "results",
			WorkDir:     "work",
			SampleSheet: "raw/samples.tsv",
		},
		Tools: ToolsConfig{
			Enabled: map[string]bool{
				"virsorter": true,
				"genomad":   true,
			},
			Params: map[string]string{},
		},
		Thresholds: ThresholdsConfig{
			MinToolsHit:        1,
			AllowedTiers:       []string{"Complete", "High", "Medium"},
			ContaminationRatio: 0.05,
			Identity:           0.95,
			Coverage:           0.85,
			MinContigLength:    1500,
			DVFScore:           0.9,
			DVFPValue:          0.01,
			BlastnPident:       50,
			BlastnEvalue:       1e-10,
			BlastnQcovs:        80,
		},
		Resources: ResourcesConfig{
			WorkerSlots:    4,
			MemoryBudgetMB: 64000,
			DefaultThreads: 8,
			Estimation: EstimationConfig{
				Enabled:   true,
				Fudge:     1.2,
				Overrides: map[string]map[string]float64{},
			},
		},
		Agent: AgentConfig{
			AutoApproveRiskLevels: []string{"low"},
			RetryLimit:            2,
			LowYieldThreshold:     5,
		},
	}
}

// Load reads the YAML file at path, layers it over Default, and validates
// the result. The returned error is always a *Error for invalid values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Field: "file", Reason: err.Error()}
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &Error{Field: "file", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	if cfg.Execution.SampleSheet != "" && !filepath.IsAbs(cfg.Execution.SampleSheet) {
		cfg.Execution.SampleSheet = filepath.Join(filepath.Dir(path), cfg.Execution.SampleSheet)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every externally supplied value against its documented
// range. Out-of-range thresholds are errors, never clamped.
func (c Config) Validate() error {
	if c.Thresholds.MinToolsHit < 1 {
		return &Error{Field: "thresholds.min_tools_hit", Reason: "must be >= 1"}
	}
	if r := c.Thresholds.ContaminationRatio; r < 0 || r > 1 {
		return &Error{Field: "thresholds.contamination_ratio", Reason: fmt.Sprintf("must be in [0,1], got %v", r)}
	}
	if v := c.Thresholds.Identity; v <= 0 || v > 1 {
		return &Error{Field: "thresholds.dedup_identity", Reason: fmt.Sprintf("must be in (0,1], got %v", v)}
	}
	if v := c.Thresholds.Coverage; v <= 0 || v > 1 {
		return &Error{Field: "thresholds.dedup_coverage", Reason: fmt.Sprintf("must be in (0,1], got %v", v)}
	}
	if c.Thresholds.MinContigLength < 0 {
		return &Error{Field: "thresholds.min_contig_length", Reason: "must be >= 0"}
	}
	for _, tier := range c.Thresholds.AllowedTiers {
		if !contains(KnownTiers, tier) {
			return &Error{Field: "thresholds.allowed_quality_tiers", Reason: fmt.Sprintf("unknown tier %q (known: %s)", tier, strings.Join(KnownTiers, ", "))}
		}
	}
	for tool := range c.Tools.Enabled {
		if !contains(KnownTools, tool) {
			return &Error{Field: "tools.enabled", Reason: fmt.Sprintf("unknown tool %q (known: %s)", tool, strings.Join(KnownTools, ", "))}
		}
	}
	if c.EnabledTools() == nil {
		return &Error{Field: "tools.enabled", Reason: "at least one detector must be enabled"}
	}
	if c.Resources.WorkerSlots < 1 {
		return &Error{Field: "resources.worker_slots", Reason: "must be >= 1"}
	}
	if c.Resources.MemoryBudgetMB < 1 {
		return &Error{Field: "resources.memory_budget_mb", Reason: "must be >= 1"}
	}
	if c.Resources.Estimation.Fudge < 1.0 {
		return &Error{Field: "resources.estimation.fudge", Reason: fmt.Sprintf("must be >= 1.0, got %v", c.Resources.Estimation.Fudge)}
	}
	for tool, fields := range c.Resources.Estimation.Overrides {
		for field, value := range fields {
			if value < 0 {
				return &Error{Field: fmt.Sprintf("resources.estimation.overrides.%s.%s", tool, field), Reason: "must be >= 0"}
			}
		}
	}
	if c.Agent.RetryLimit < 0 {
		return &Error{Field: "agent.retry_limit", Reason: "must be >= 0"}
	}
	for _, level := range c.Agent.AutoApproveRiskLevels {
		if level != "low" && level != "high" {
			return &Error{Field: "agent.auto_approve_risk_levels", Reason: fmt.Sprintf("unknown risk level %q", level)}
		}
	}
	return nil
}

// EnabledTools returns the sorted names of enabled detectors, or nil when
// none are enabled.
func (c Config) EnabledTools() []string {
	var tools []string
	for tool, on := range c.Tools.Enabled {
		if on {
			tools = append(tools, tool)
		}
	}
	sort.Strings(tools)
	return tools
}

// AutoApproves reports whether actions of the given risk level may be
// applied without operator confirmation.
func (a AgentConfig) AutoApproves(level string) bool {
	return contains(a.AutoApproveRiskLevels, strings.ToLower(level))
}

// AutoApproves answers for the agent section.
func (c Config) AutoApproves(level string) bool {
	return c.Agent.AutoApproves(level)
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
