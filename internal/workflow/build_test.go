package workflow

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/sample"
)

func testLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	return Layout{
		ResultsDir: filepath.Join(root, "results"),
		WorkDir:    filepath.Join(root, "work"),
		RunID:      "run1",
	}
}

func stepByName(t *testing.T, steps []*Step, name string) *Step {
	t.Helper()
	for _, st := range steps {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("step %q not built", name)
	return nil
}

func stageSequence(steps []*Step, sampleID string) []string {
	var out []string
	for _, st := range steps {
		if st.Sample == sampleID {
			out = append(out, shortName(st.Name))
		}
	}
	return out
}

func TestBuildReadsChainWithHost(t *testing.T) {
	cfg := config.Default()
	s := sample.Sample{ID: "s1", Mode: sample.ModeReads, Input1: "/in/r1.fq", Input2: "/in/r2.fq", Host: "human"}
	steps := Build(cfg, []sample.Sample{s}, testLayout(t))

	want := []string{
		"preprocess", "host-removal", "assembly", "length-filter",
		"detect-genomad", "detect-virsorter",
		"combine", "quality", "quality-gate", "contamination",
	}
	if got := stageSequence(steps, "s1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}

	pre := stepByName(t, steps, "s1/preprocess")
	if !reflect.DeepEqual(pre.Inputs, []string{"/in/r1.fq", "/in/r2.fq"}) {
		t.Errorf("preprocess inputs = %v", pre.Inputs)
	}
	hr := stepByName(t, steps, "s1/host-removal")
	if !reflect.DeepEqual(hr.Inputs, pre.Outputs) {
		t.Errorf("host removal reads %v, want preprocess outputs %v", hr.Inputs, pre.Outputs)
	}
	asm := stepByName(t, steps, "s1/assembly")
	if !reflect.DeepEqual(asm.Inputs, hr.Outputs) {
		t.Errorf("assembly reads %v, want host-removal outputs %v", asm.Inputs, hr.Outputs)
	}

	// Both detectors fan out from the length filter and feed combine.
	lf := stepByName(t, steps, "s1/length-filter")
	for _, tool := range []string{"genomad", "virsorter"} {
		d := stepByName(t, steps, "s1/"+DetectStage(tool))
		if !reflect.DeepEqual(d.Deps, []string{lf.Name}) {
			t.Errorf("%s deps = %v, want [%s]", d.Name, d.Deps, lf.Name)
		}
		if d.Inputs[0] != lf.Outputs[0] {
			t.Errorf("%s input = %s, want %s", d.Name, d.Inputs[0], lf.Outputs[0])
		}
	}
	combine := stepByName(t, steps, "s1/combine")
	if len(combine.Deps) != 2 {
		t.Errorf("combine deps = %v, want both detectors", combine.Deps)
	}
}

func TestBuildNoHostSkipsRemoval(t *testing.T) {
	cfg := config.Default()
	s := sample.Sample{ID: "s1", Mode: sample.ModeReads, Input1: "/in/r1.fq", Input2: "/in/r2.fq"}
	steps := Build(cfg, []sample.Sample{s}, testLayout(t))
	for _, st := range steps {
		if shortName(st.Name) == StageHostRemoval {
			t.Fatalf("host removal built for host-less sample")
		}
	}
	asm := stepByName(t, steps, "s1/assembly")
	pre := stepByName(t, steps, "s1/preprocess")
	if !reflect.DeepEqual(asm.Inputs, pre.Outputs) {
		t.Errorf("assembly reads %v, want preprocess outputs %v", asm.Inputs, pre.Outputs)
	}
}

func TestBuildContigsModeStartsAtLengthFilter(t *testing.T) {
	cfg := config.Default()
	s := sample.Sample{ID: "s1", Mode: sample.ModeContigs, Input1: "/in/contigs.fa"}
	steps := Build(cfg, []sample.Sample{s}, testLayout(t))

	first := stageSequence(steps, "s1")[0]
	if first != StageLengthFilter {
		t.Fatalf("first stage = %s, want %s", first, StageLengthFilter)
	}
	lf := stepByName(t, steps, "s1/length-filter")
	if lf.Inputs[0] != "/in/contigs.fa" {
		t.Errorf("length filter input = %s", lf.Inputs[0])
	}
	if len(lf.Deps) != 0 {
		t.Errorf("length filter deps = %v, want none", lf.Deps)
	}
}

func TestBuildPrefilterRewiresDetectors(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.Enabled["checkv"] = true
	s := sample.Sample{ID: "s1", Mode: sample.ModeContigs, Input1: "/in/contigs.fa"}
	steps := Build(cfg, []sample.Sample{s}, testLayout(t))

	pf := stepByName(t, steps, "s1/prefilter")
	filtered := pf.Outputs[1]
	if filepath.Base(filtered) != "filtered_contigs.fa" {
		t.Fatalf("prefilter outputs = %v", pf.Outputs)
	}
	for _, tool := range []string{"genomad", "virsorter"} {
		d := stepByName(t, steps, "s1/"+DetectStage(tool))
		if d.Inputs[0] != filtered {
			t.Errorf("%s input = %s, want prefiltered set", d.Name, d.Inputs[0])
		}
		if !reflect.DeepEqual(d.Deps, []string{pf.Name}) {
			t.Errorf("%s deps = %v", d.Name, d.Deps)
		}
	}
	combine := stepByName(t, steps, "s1/combine")
	var hasList bool
	for _, in := range combine.Inputs {
		if strings.HasSuffix(in, "viral_contigs.list") {
			hasList = true
		}
	}
	if !hasList {
		t.Errorf("combine inputs lack the viral vote list: %v", combine.Inputs)
	}
}

func TestBuildNoDetectorsCombineStillWired(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.Enabled = map[string]bool{}
	s := sample.Sample{ID: "s1", Mode: sample.ModeContigs, Input1: "/in/contigs.fa"}
	steps := Build(cfg, []sample.Sample{s}, testLayout(t))

	combine := stepByName(t, steps, "s1/combine")
	lf := stepByName(t, steps, "s1/length-filter")
	if !reflect.DeepEqual(combine.Deps, []string{lf.Name}) {
		t.Errorf("combine deps = %v, want direct dependency on %s", combine.Deps, lf.Name)
	}
}

func TestBuildProjectBarrier(t *testing.T) {
	cfg := config.Default()
	samples := []sample.Sample{
		{ID: "s2", Mode: sample.ModeContigs, Input1: "/in/b.fa"},
		{ID: "s1", Mode: sample.ModeContigs, Input1: "/in/a.fa"},
	}
	steps := Build(cfg, samples, testLayout(t))

	merge := stepByName(t, steps, "project/library-merge")
	if !merge.Project {
		t.Error("merge is not a project step")
	}
	want := []string{"s1/contamination", "s2/contamination"}
	if !reflect.DeepEqual(merge.Deps, want) {
		t.Errorf("merge deps = %v, want %v (sorted by sample)", merge.Deps, want)
	}
	for i, dep := range merge.Deps {
		term := stepByName(t, steps, dep)
		if merge.Inputs[i] != term.Outputs[len(term.Outputs)-1] {
			t.Errorf("merge input %d = %s, want terminal artifact of %s", i, merge.Inputs[i], dep)
		}
	}

	quantify := stepByName(t, steps, "project/quantify")
	if !quantify.Optional {
		t.Error("quantify must be optional")
	}
	summary := stepByName(t, steps, "project/summary")
	if !reflect.DeepEqual(summary.Deps, []string{"project/dedup", "project/quantify"}) {
		t.Errorf("summary deps = %v", summary.Deps)
	}
}

func TestStepDirSeparatesSamplesFromProject(t *testing.T) {
	l := testLayout(t)
	sampleDir := l.StepDir("s1", 3, StageLengthFilter)
	if !strings.Contains(sampleDir, filepath.Join("samples", "s1", "03_length-filter")) {
		t.Errorf("sample step dir = %s", sampleDir)
	}
	projectDir := l.StepDir("", 1, StageDedup)
	if !strings.Contains(projectDir, filepath.Join("project", "01_dedup")) {
		t.Errorf("project step dir = %s", projectDir)
	}
	if !strings.HasPrefix(l.DecisionLogPath(), l.RunDir()) {
		t.Errorf("decision log outside run dir: %s", l.DecisionLogPath())
	}
	if filepath.Base(l.StatusSnapshotPath()) != "status.json" {
		t.Errorf("snapshot path = %s", l.StatusSnapshotPath())
	}
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusSucceeded, false},
		{StatusRunning, StatusSucceeded, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPending, true}, // cancellation
		{StatusSucceeded, StatusStale, true},
		{StatusSucceeded, StatusRunning, false},
		{StatusFailed, StatusSkipped, true},
		{StatusSkipped, StatusStale, true},
		{StatusStale, StatusFailed, false},
	}
	for _, c := range cases {
		if got := ValidTransition(c.from, c.to); got != c.ok {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusSkipped} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StatusRunning.Terminal() {
		t.Error("running is not terminal")
	}
}
