// Package workflow defines the pipeline's steps and their artifacts. A
// step is a named stage bound to one sample, or to the whole project for
// library-level work; the graph package schedules them.
package workflow

import (
	"context"
	"fmt"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/artifact"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/decision"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/logging"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/resources"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/sample"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/tools"
)

// StepFunc executes one step. Outputs must be written to temporary paths
// and promoted only on full success; a cancelled run must never leave a
// partial artifact at a final path.
type StepFunc func(ctx context.Context, rc *RunContext, st *Step) error

// Step is one pipeline stage. Inputs and Outputs are absolute artifact
// paths; Deps name the steps that produce the inputs.
type Step struct {
	Name     string
	Sample   string // empty for project-level steps
	Tool     string // resource profile name
	Index    int
	Deps     []string
	Inputs   []string
	Outputs  []string
	Optional bool // dependents may proceed when this step is skipped
	Project  bool // barrier step over all sample chains
	Run      StepFunc
}

// Dir is the step's output directory.
func (s *Step) Dir(l Layout) string {
	return l.StepDir(s.Sample, s.Index, shortName(s.Name))
}

// WorkDir is the step's scratch directory.
func (s *Step) WorkDir(l Layout) string {
	return l.StepWorkDir(s.Sample, s.Index, shortName(s.Name))
}

func shortName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}

// StepName builds the canonical step name for a sample stage.
func StepName(sampleID, stage string) string {
	if sampleID == "" {
		return "project/" + stage
	}
	return sampleID + "/" + stage
}

// RunContext bundles everything steps need: configuration, the path
// layout, shared services and the collaborating tool runner. It is built
// once per run and shared read-only across sample chains.
type RunContext struct {
	Config    config.Config
	RunID     string
	Layout    Layout
	Samples   []sample.Sample
	Log       *logging.Logger
	Decisions *decision.Log
	Estimator *resources.Estimator
	Store     *artifact.Store
	Runner    tools.Runner
}

// Sample resolves a sample by id.
func (rc *RunContext) Sample(id string) (sample.Sample, error) {
	for _, s := range rc.Samples {
		if s.ID == id {
			return s, nil
		}
	}
	return sample.Sample{}, fmt.Errorf("workflow: unknown sample %q", id)
}

// Mock reports whether external tools are replaced by deterministic
// stand-ins.
func (rc *RunContext) Mock() bool {
	return rc.Config.Execution.MockMode
}
