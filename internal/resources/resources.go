// Package resources sizes jobs before submission. Estimates are
// deterministic and offline, derived from coarse per-tool coefficients
// that sites can override in configuration.
package resources

import (
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
)

// Estimate is a concrete resource request for one job.
type Estimate struct {
	CPU      int `json:"cpu"`
	MemMB    int `json:"mem_mb"`
	RuntimeS int `json:"runtime_s"`
}

// Profile holds the estimation coefficients for one tool. Memory scales
// with input gigabytes from a base, runtime likewise, and both are capped.
type Profile struct {
	MemMBBase     int
	MemMBPerGB    int
	RuntimeSBase  int
	RuntimeSPerGB int
	MemMBMax      int
	RuntimeSMax   int
	MaxCPU        int
}

// defaultProfiles are intentionally coarse. Tools without an entry use
// "default".
var defaultProfiles = map[string]Profile{
	"default":   {2000, 500, 1800, 600, 64000, 24 * 3600, 8},
	"fastp":     {2000, 800, 1200, 900, 16000, 6 * 3600, 8},
	"bowtie2":   {4000, 1200, 1800, 1200, 96000, 12 * 3600, 16},
	"megahit":   {8000, 5000, 3600, 3600, 256000, 48 * 3600, 32},
	"vsearch":   {2000, 1500, 900, 600, 64000, 8 * 3600, 8},
	"virsorter": {16000, 2500, 7200, 3600, 256000, 72 * 3600, 16},
	"genomad":   {16000, 2000, 3600, 1800, 256000, 48 * 3600, 16},
	"dvf":       {8000, 1500, 3600, 1800, 128000, 48 * 3600, 8},
	"vibrant":   {16000, 2000, 3600, 1800, 192000, 48 * 3600, 16},
	"blastn":    {8000, 1500, 3600, 1800, 128000, 48 * 3600, 16},
	"checkv":    {16000, 1500, 3600, 1800, 192000, 48 * 3600, 16},
	"busco":     {16000, 1000, 3600, 1200, 128000, 48 * 3600, 16},
	"vclust":    {8000, 2000, 3600, 1800, 192000, 72 * 3600, 16},
	"coverm":    {16000, 1800, 3600, 1800, 192000, 72 * 3600, 16},
	"gmv":       {2000, 500, 600, 300, 32000, 6 * 3600, 4},
}

// Estimator produces resource requests for jobs. The per-sample override
// table is the only mutable state; it is written by the policy engine when
// a retry escalates a job and read by the scheduler on re-plan.
type Estimator struct {
	mu             sync.RWMutex
	cfg            config.EstimationConfig
	defaultThreads int
	overrides      map[string]Estimate
}

// New builds an Estimator from the resources section of the run config.
func New(cfg config.ResourcesConfig) *Estimator {
	return &Estimator{
		cfg:            cfg.Estimation,
		defaultThreads: cfg.DefaultThreads,
		overrides:      make(map[string]Estimate),
	}
}

// ProfileFor returns the coefficients for tool, with any configured
// coefficient overrides applied on top of the built-in defaults.
func (e *Estimator) ProfileFor(tool string) Profile {
	p, ok := defaultProfiles[tool]
	if !ok {
		p = defaultProfiles["default"]
	}
	ov, ok := e.cfg.Overrides[tool]
	if !ok {
		return p
	}
	apply := func(key string, dst *int) {
		if v, ok := ov[key]; ok && v > 0 {
			*dst = int(v)
		}
	}
	apply("mem_mb_base", &p.MemMBBase)
	apply("mem_mb_per_gb", &p.MemMBPerGB)
	apply("runtime_s_base", &p.RuntimeSBase)
	apply("runtime_s_per_gb", &p.RuntimeSPerGB)
	apply("mem_mb_max", &p.MemMBMax)
	apply("runtime_s_max", &p.RuntimeSMax)
	apply("max_cpu", &p.MaxCPU)
	return p
}

// Estimate sizes a job for tool given total input size in megabytes. A
// negative size means the size could not be determined; the estimate then
// falls back to the base profile rather than treating the input as empty.
func (e *Estimator) Estimate(tool string, sizeMB float64) Estimate {
	p := e.ProfileFor(tool)
	cpu := e.defaultThreads
	if cpu <= 0 || cpu > p.MaxCPU {
		cpu = p.MaxCPU
	}
	base := Estimate{CPU: cpu, MemMB: p.MemMBBase, RuntimeS: p.RuntimeSBase}
	if !e.cfg.Enabled || sizeMB < 0 {
		return base
	}
	fudge := e.cfg.Fudge
	if fudge < 1.0 {
		fudge = 1.0
	}
	gb := sizeMB / 1024.0
	mem := (float64(p.MemMBBase) + float64(p.MemMBPerGB)*gb) * fudge
	runtime := (float64(p.RuntimeSBase) + float64(p.RuntimeSPerGB)*gb) * fudge
	mem = math.Min(mem, float64(p.MemMBMax))
	runtime = math.Min(runtime, float64(p.RuntimeSMax))
	// Ceil so rounding never under-allocates.
	base.MemMB = max(p.MemMBBase, int(math.Ceil(mem)))
	base.RuntimeS = max(p.RuntimeSBase, int(math.Ceil(runtime)))
	return base
}

// EstimateFor sizes a job for one sample, applying any explicit override
// recorded for that sample and tool. An override always wins.
func (e *Estimator) EstimateFor(sampleID, tool string, sizeMB float64) Estimate {
	e.mu.RLock()
	ov, ok := e.overrides[overrideKey(sampleID, tool)]
	e.mu.RUnlock()
	if ok {
		return ov
	}
	return e.Estimate(tool, sizeMB)
}

// SetOverride pins the estimate for one sample and tool until cleared.
func (e *Estimator) SetOverride(sampleID, tool string, est Estimate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[overrideKey(sampleID, tool)] = est
}

// ClearOverride removes a pinned estimate.
func (e *Estimator) ClearOverride(sampleID, tool string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.overrides, overrideKey(sampleID, tool))
}

// Overrides returns a sorted snapshot of the override table for reporting.
func (e *Estimator) Overrides() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.overrides))
	for k := range e.overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Escalate doubles memory and runtime for a retry, capped by the tool's
// profile ceilings. Escalating an already-capped estimate is a no-op.
func (e *Estimator) Escalate(tool string, est Estimate) Estimate {
	p := e.ProfileFor(tool)
	est.MemMB = min(est.MemMB*2, p.MemMBMax)
	est.RuntimeS = min(est.RuntimeS*2, p.RuntimeSMax)
	return est
}

func overrideKey(sampleID, tool string) string {
	return fmt.Sprintf("%s/%s", sampleID, tool)
}

// InputSizeMB sums the sizes of the given files in megabytes. It returns
// -1 when none of the paths could be statted, signalling unknown size.
func InputSizeMB(paths ...string) float64 {
	var total int64
	seen := false
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		seen = true
		total += info.Size()
	}
	if !seen {
		return -1
	}
	return float64(total) / (1024 * 1024)
}
