package workflow

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout derives every artifact path a run uses. Paths are a pure function
// of run id, sample id, step index and step name, so re-planning always
// resolves the same locations and the scheduler never invents ad hoc
// paths.
type Layout struct {
	ResultsDir string
	WorkDir    string
	RunID      string
}

// RunDir is the root of all artifacts for this run.
func (l Layout) RunDir() string {
	return filepath.Join(l.ResultsDir, l.RunID)
}

// SampleDir holds one sample's per-step directories.
func (l Layout) SampleDir(sampleID string) string {
	return filepath.Join(l.RunDir(), "samples", sampleID)
}

// StepDir is where one step writes its outputs. Project-level steps pass
// an empty sample id and land under project/.
func (l Layout) StepDir(sampleID string, index int, name string) string {
	if sampleID == "" {
		return filepath.Join(l.RunDir(), "project", fmt.Sprintf("%02d_%s", index, name))
	}
	return filepath.Join(l.SampleDir(sampleID), fmt.Sprintf("%02d_%s", index, name))
}

// StepWorkDir is scratch space for one step, outside the results tree.
func (l Layout) StepWorkDir(sampleID string, index int, name string) string {
	if sampleID == "" {
		return filepath.Join(l.WorkDir, l.RunID, "project", fmt.Sprintf("%02d_%s", index, name))
	}
	return filepath.Join(l.WorkDir, l.RunID, sampleID, fmt.Sprintf("%02d_%s", index, name))
}

// StateDir holds scheduler state: fingerprints and the status snapshot.
func (l Layout) StateDir() string {
	return filepath.Join(l.RunDir(), "state")
}

// DecisionLogPath is the run's append-only decision log.
func (l Layout) DecisionLogPath() string {
	return filepath.Join(l.RunDir(), "decisions.jsonl")
}

// StatusSnapshotPath is the step board the monitor polls.
func (l Layout) StatusSnapshotPath() string {
	return filepath.Join(l.StateDir(), "status.json")
}

// Initialize creates the run's directory skeleton.
func (l Layout) Initialize() error {
	for _, dir := range []string{l.RunDir(), l.StateDir(), filepath.Join(l.RunDir(), "samples"), filepath.Join(l.RunDir(), "project")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workflow: init layout: %w", err)
		}
	}
	return nil
}
