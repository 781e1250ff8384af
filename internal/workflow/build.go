package workflow

import (
	"path/filepath"
	"sort"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/sample"
)

// Stage names within a sample chain.
const (
	StagePreprocess    = "preprocess"
	StageHostRemoval   = "host-removal"
	StageAssembly      = "assembly"
	StageLengthFilter  = "length-filter"
	StagePrefilter     = "prefilter"
	StageCombine       = "combine"
	StageQuality       = "quality"
	StageQualityGate   = "quality-gate"
	StageContamination = "contamination"
)

// Project-level stage names.
const (
	StageLibraryMerge = "library-merge"
	StageDedup        = "dedup"
	StageQuantify     = "quantify"
	StageSummary      = "summary"
)

// DetectStage names the detection step for one tool.
func DetectStage(tool string) string { return "detect-" + tool }

// Build lays out the full step list for a run: one chain per sample and
// the project-level barrier steps after them. Disabled tools contribute no
// steps; a sample in contigs mode starts at the length filter.
func Build(cfg config.Config, samples []sample.Sample, layout Layout) []*Step {
	var steps []*Step
	terminalBySample := make(map[string]*Step, len(samples))
	for _, s := range samples {
		chain := buildSampleChain(cfg, s, layout)
		steps = append(steps, chain...)
		terminalBySample[s.ID] = chain[len(chain)-1]
	}
	steps = append(steps, buildProjectSteps(cfg, samples, layout, terminalBySample)...)
	return steps
}

func buildSampleChain(cfg config.Config, s sample.Sample, layout Layout) []*Step {
	var chain []*Step
	index := 0
	var prev *Step

	add := func(stage, tool string, optional bool, inputs, outputNames []string, run StepFunc) *Step {
		st := &Step{
			Name:     StepName(s.ID, stage),
			Sample:   s.ID,
			Tool:     tool,
			Index:    index,
			Optional: optional,
			Inputs:   inputs,
			Run:      run,
		}
		dir := st.Dir(layout)
		for _, name := range outputNames {
			st.Outputs = append(st.Outputs, filepath.Join(dir, name))
		}
		if prev != nil {
			st.Deps = append(st.Deps, prev.Name)
		}
		chain = append(chain, st)
		prev = st
		index++
		return st
	}

	// Current sequence artifact flowing down the chain.
	var contigs string

	if s.Mode == sample.ModeReads {
		pre := add(StagePreprocess, "fastp", false,
			[]string{s.Input1, s.Input2},
			[]string{"clean_1.fq.gz", "clean_2.fq.gz"}, runPreprocess)
		reads := pre.Outputs

		if s.Host != "" {
			hr := add(StageHostRemoval, "bowtie2", false,
				reads, []string{"nohost_1.fq.gz", "nohost_2.fq.gz"}, runHostRemoval)
			reads = hr.Outputs
		}

		asm := add(StageAssembly, "megahit", false,
			reads, []string{"contigs.fa"}, runAssembly)
		contigs = asm.Outputs[0]
	} else {
		contigs = s.Input1
	}

	lf := add(StageLengthFilter, "vsearch", false,
		[]string{contigs}, []string{"contigs.fa"}, runLengthFilter)
	contigs = lf.Outputs[0]

	enabled := cfg.EnabledTools()
	prefilterEnabled := toolEnabled(enabled, "checkv")
	var viralList string
	if prefilterEnabled {
		pf := add(StagePrefilter, "checkv", false,
			[]string{contigs},
			[]string{"quality_summary.tsv", "filtered_contigs.fa", "viral_contigs.list"}, runPrefilter)
		contigs = pf.Outputs[1]
		viralList = pf.Outputs[2]
	}

	// Detector steps fan out from the current contig set; the combine step
	// joins them back. Each detector depends only on the step that produced
	// its input, so detectors run concurrently.
	fanDep := prev
	var detectSteps []*Step
	for _, tool := range enabled {
		if tool == "checkv" {
			continue
		}
		st := &Step{
			Name:   StepName(s.ID, DetectStage(tool)),
			Sample: s.ID,
			Tool:   tool,
			Index:  index,
			Inputs: []string{contigs},
			Deps:   []string{fanDep.Name},
			Run:    runDetect,
		}
		st.Outputs = []string{filepath.Join(st.Dir(layout), rawOutputName(tool))}
		chain = append(chain, st)
		detectSteps = append(detectSteps, st)
		index++
	}

	combine := &Step{
		Name:   StepName(s.ID, StageCombine),
		Sample: s.ID,
		Tool:   "gmv",
		Index:  index,
		Inputs: []string{contigs},
		Run:    runCombine,
	}
	for _, d := range detectSteps {
		combine.Deps = append(combine.Deps, d.Name)
		combine.Inputs = append(combine.Inputs, d.Outputs[0])
	}
	if len(detectSteps) == 0 {
		combine.Deps = append(combine.Deps, fanDep.Name)
	}
	if viralList != "" {
		combine.Inputs = append(combine.Inputs, viralList)
	}
	dir := combine.Dir(layout)
	combine.Outputs = []string{filepath.Join(dir, "contigs.fa"), filepath.Join(dir, "info.txt")}
	chain = append(chain, combine)
	prev = combine
	index++

	qa := add(StageQuality, "checkv", false,
		[]string{combine.Outputs[0]}, []string{"quality_summary.tsv"}, runQuality)

	gate := add(StageQualityGate, "gmv", false,
		[]string{combine.Outputs[0], qa.Outputs[0]}, []string{"contigs.fa"}, runQualityGate)

	add(StageContamination, "busco", false,
		[]string{gate.Outputs[0]},
		[]string{"predicted.fna", "full_table.tsv", "contigs.fa"}, runContamination)

	return chain
}

func buildProjectSteps(cfg config.Config, samples []sample.Sample, layout Layout, terminal map[string]*Step) []*Step {
	ids := make([]string, 0, len(samples))
	for _, s := range samples {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)

	merge := &Step{
		Name:    StepName("", StageLibraryMerge),
		Tool:    "gmv",
		Index:   0,
		Project: true,
		Run:     runLibraryMerge,
	}
	for _, id := range ids {
		t := terminal[id]
		merge.Deps = append(merge.Deps, t.Name)
		// The terminal per-sample artifact is the contamination-filtered
		// contig set.
		merge.Inputs = append(merge.Inputs, t.Outputs[len(t.Outputs)-1])
	}
	merge.Outputs = []string{filepath.Join(merge.Dir(layout), "merged.fa")}

	dedup := &Step{
		Name:    StepName("", StageDedup),
		Tool:    "vclust",
		Index:   1,
		Project: true,
		Deps:    []string{merge.Name},
		Inputs:  []string{merge.Outputs[0]},
		Run:     runDedup,
	}
	dedupDir := dedup.Dir(layout)
	dedup.Outputs = []string{filepath.Join(dedupDir, "votus.fa"), filepath.Join(dedupDir, "clusters.tsv")}

	quantify := &Step{
		Name:     StepName("", StageQuantify),
		Tool:     "coverm",
		Index:    2,
		Project:  true,
		Optional: true,
		Deps:     []string{dedup.Name},
		Inputs:   []string{dedup.Outputs[0]},
		Run:      runQuantify,
	}
	quantify.Outputs = []string{filepath.Join(quantify.Dir(layout), "abundance.tsv")}

	summary := &Step{
		Name:    StepName("", StageSummary),
		Tool:    "gmv",
		Index:   3,
		Project: true,
		Deps:    []string{dedup.Name, quantify.Name},
		Inputs:  []string{dedup.Outputs[0], quantify.Outputs[0]},
		Run:     runSummary,
	}
	summary.Outputs = []string{filepath.Join(summary.Dir(layout), "summary.json")}

	return []*Step{merge, dedup, quantify, summary}
}

func toolEnabled(enabled []string, tool string) bool {
	for _, t := range enabled {
		if t == tool {
			return true
		}
	}
	return false
}

// rawOutputName is the native output file each detector leaves behind.
func rawOutputName(tool string) string {
	switch tool {
	case "virsorter":
		return "final-viral-score.tsv"
	case "genomad":
		return "contigs_virus_summary.tsv"
	case "dvf":
		return "contigs_dvfpred.txt"
	case "vibrant":
		return "phages_combined.txt"
	case "blastn":
		return "blastn.out"
	}
	return tool + ".out"
}
